// Package metrics registers the domain-level Prometheus collectors of the file collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FileOperations 按操作与结果统计集合操作。
	FileOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecollection_operations_total",
			Help: "File collection operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AuthorizationDenials 统计被拥有者规则拒绝的请求。
	AuthorizationDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecollection_authorization_denials_total",
			Help: "Requests denied by the ownership rules",
		},
		[]string{"rule"},
	)

	// ChunkBytes 统计接收到的分片字节数。
	ChunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filecollection_chunk_bytes_total",
		Help: "Bytes received through resumable chunk uploads",
	})

	// AssembledFiles 统计完成拼接的文件。
	AssembledFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filecollection_assembled_files_total",
		Help: "Files assembled from resumable chunks",
	})

	// StaleChunksRemoved 统计清理任务删除的过期分片。
	StaleChunksRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filecollection_stale_chunks_removed_total",
		Help: "Partial chunk records removed by the cleanup worker",
	})

	// LiveSessions 当前打开的实时通道数。
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filecollection_live_sessions",
		Help: "Number of open live publication channels",
	})

	// LiveSubscriptions 当前活跃的订阅数。
	LiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filecollection_live_subscriptions",
		Help: "Number of active live subscriptions",
	})

	// LiveResyncs 统计因缓冲溢出触发的全量重算。
	LiveResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filecollection_live_resyncs_total",
		Help: "Live sessions re-evaluated after their change buffer overflowed",
	})
)

// Outcome 把错误折算为指标标签。
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
