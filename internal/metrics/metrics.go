// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層から利用する。
type MetricsCollector interface {
	RecordUploadSuccess(fileCount int)
	RecordUploadFailure(reason string)
	RecordUploadLatency(duration time.Duration)
	RecordUploadedBytes(bytes int64)
	RecordBlobDeleteFailure()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	uploadSuccess  prometheus.Counter
	uploadFail     *prometheus.CounterVec
	uploadLatency  prometheus.Histogram
	uploadedBytes  prometheus.Counter
	filesUploaded  prometheus.Counter
	blobDeleteFail prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		uploadSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docman_upload_success_total",
			Help: "ドキュメントアップロード成功の合計数",
		}),
		uploadFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docman_upload_fail_total",
			Help: "ドキュメントアップロード失敗の合計数（理由別）",
		}, []string{"reason"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "docman_upload_latency_seconds",
			Help: "アップロード処理のレイテンシ（秒）",
			// アップロードはファイルサイズ次第で分単位になるためバケットは広め
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docman_uploaded_bytes_total",
			Help: "アップロードされたバイト数の合計",
		}),
		filesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docman_files_uploaded_total",
			Help: "アップロードされたファイルの合計数",
		}),
		blobDeleteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docman_blob_delete_fail_total",
			Help: "ストレージ上のBlob削除失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.uploadSuccess,
		c.uploadFail,
		c.uploadLatency,
		c.uploadedBytes,
		c.filesUploaded,
		c.blobDeleteFail,
		c.httpStatus,
	)

	return c
}

// RecordUploadSuccess はアップロード成功とファイル数を記録する。
func (c *Collector) RecordUploadSuccess(fileCount int) {
	c.uploadSuccess.Inc()
	c.filesUploaded.Add(float64(fileCount))
}

// RecordUploadFailure はアップロード失敗を理由別に記録する。
func (c *Collector) RecordUploadFailure(reason string) {
	c.uploadFail.WithLabelValues(reason).Inc()
}

// RecordUploadLatency はアップロード処理のレイテンシを記録する。
func (c *Collector) RecordUploadLatency(duration time.Duration) {
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordUploadedBytes はアップロードされたバイト数を記録する。
func (c *Collector) RecordUploadedBytes(bytes int64) {
	c.uploadedBytes.Add(float64(bytes))
}

// RecordBlobDeleteFailure はBlob削除失敗を記録する。
// 削除はベストエフォートのため、失敗はエラーではなくメトリクスで追跡する。
func (c *Collector) RecordBlobDeleteFailure() {
	c.blobDeleteFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
