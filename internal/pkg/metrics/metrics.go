package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus 指标集合。
//
// 计数器在包加载时即可用；InitMetrics 只负责注册到默认 Registry，
// 可以安全地被重复调用（测试中经常如此）。
var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_login_success_total",
		Help: "Number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_login_failure_total",
		Help: "Number of rejected login attempts.",
	})
	AuthRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_auth_rejected_total",
		Help: "Number of requests rejected by the bearer-token middleware.",
	})
	TaskCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_task_created_total",
		Help: "Number of tasks created.",
	})
	TaskDuplicatePreventedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_task_duplicate_prevented_total",
		Help: "Number of duplicate task submissions suppressed.",
	})
	AccountDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_account_deleted_total",
		Help: "Number of accounts removed through cascade deletion.",
	})
	CascadeRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_cascade_retry_total",
		Help: "Number of cascade-delete transactions retried after a failure.",
	})
	MailEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_mail_enqueued_total",
		Help: "Number of mail messages published to the delivery stream.",
	})
	MailDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_mail_delivered_total",
		Help: "Number of mail messages delivered successfully.",
	})
	MailDLQTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_mail_dlq_total",
		Help: "Number of mail messages moved to the dead letter stream.",
	})
	MailAutoClaimTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_mail_autoclaim_total",
		Help: "Number of pending mail messages reclaimed from dead consumers.",
	})

	registerOnce sync.Once
)

// InitMetrics 注册所有 Prometheus 指标。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LoginSuccessTotal,
			LoginFailureTotal,
			AuthRejectedTotal,
			TaskCreatedTotal,
			TaskDuplicatePreventedTotal,
			AccountDeletedTotal,
			CascadeRetryTotal,
			MailEnqueuedTotal,
			MailDeliveredTotal,
			MailDLQTotal,
			MailAutoClaimTotal,
		)
	})
}
