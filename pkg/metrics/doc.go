/*
Package metrics defines the Prometheus collectors for the fde server and
the process health snapshot served on /health.

Collectors cover the three hot paths: chunk ingestion (count, bytes, MD5
rejections, active staged tasks, sweeper removals), deploy execution
(count by result, running gauge, duration, gate rejections) and the HTTP
surface (request count and duration by route). Everything registers in
init(); the /metrics route serves the default registry via promhttp.
*/
package metrics
