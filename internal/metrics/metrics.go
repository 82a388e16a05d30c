package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Sweep types
	SweepStatus = "status"
	SweepSync   = "sync"
	SweepWeekly = "weekly"

	// Results
	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultFailure = "failure"

	// Transition paths
	PathLazy      = "lazy"
	PathScheduled = "scheduled"
	PathUser      = "user"

	// HTTP endpoints
	EndpointCreateChallenge   = "create_challenge"
	EndpointGetChallenge      = "get_challenge"
	EndpointRenameChallenge   = "rename_challenge"
	EndpointDeleteChallenge   = "delete_challenge"
	EndpointLeaveChallenge    = "leave_challenge"
	EndpointFinishChallenge   = "finish_challenge"
	EndpointCancelChallenge   = "cancel_challenge"
	EndpointGetProgress       = "get_progress"
	EndpointSyncChallenge     = "sync_challenge"
	EndpointListWeeks         = "list_weeks"
	EndpointPreviewInvite     = "preview_invite"
	EndpointJoinInvite        = "join_invite"
	EndpointListMyChallenges  = "list_my_challenges"
	EndpointListNotifications = "list_notifications"
	EndpointMarkRead          = "mark_notifications_read"
	EndpointHealth            = "health"

	// Strava API operations
	OpRefreshToken   = "refresh_token"
	OpListActivities = "list_activities"

	// Rate limit types
	RateLimitOverall15Min = "overall_15min"
	RateLimitOverallDaily = "overall_daily"
	RateLimitRead15Min    = "read_15min"
	RateLimitReadDaily    = "read_daily"

	// Rate limit buckets
	BucketLimit = "limit"
	BucketUsage = "usage"

	// Database operations
	DBOpCreateChallenge       = "create_challenge"
	DBOpGetChallenge          = "get_challenge"
	DBOpGetChallengeByInvite  = "get_challenge_by_invite"
	DBOpListChallenges        = "list_challenges"
	DBOpCompareAndSetStatus   = "compare_and_set_status"
	DBOpRenameChallenge       = "rename_challenge"
	DBOpDeleteChallenge       = "delete_challenge"
	DBOpCountByStatus         = "count_by_status"
	DBOpAddParticipant        = "add_participant"
	DBOpRemoveParticipant     = "remove_participant"
	DBOpForfeitParticipant    = "forfeit_participant"
	DBOpUpsertDailyProgress   = "upsert_daily_progress"
	DBOpGetLatestProgress     = "get_latest_progress"
	DBOpListProgress          = "list_progress"
	DBOpInsertWeekResult      = "insert_week_result"
	DBOpGetWeekResult         = "get_week_result"
	DBOpListWeekResults       = "list_week_results"
	DBOpInsertActivities      = "insert_activities"
	DBOpSumDistance           = "sum_distance"
	DBOpGetConnection         = "get_connection"
	DBOpUpsertConnection      = "upsert_connection"
	DBOpUpdateTokens          = "update_tokens"
	DBOpInsertNotification    = "insert_notification"
	DBOpListNotifications     = "list_notifications"
	DBOpCountUnread           = "count_unread_notifications"
	DBOpMarkNotificationsRead = "mark_notifications_read"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Sweep Metrics
var (
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of background sweeps by type and result",
		},
		[]string{"sweep", "result"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Time spent running a full sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"sweep"},
	)

	SweepItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_items_total",
			Help: "Challenges visited by sweeps, by outcome",
		},
		[]string{"sweep", "result"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the scheduler is currently active (1) or not (0)",
		},
	)
)

// Challenge Metrics
var (
	ChallengesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "challenges_by_status",
			Help: "Number of challenges per status",
		},
		[]string{"status"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_status_transitions_total",
			Help: "Applied status transitions",
		},
		[]string{"from", "to", "trigger", "path"},
	)

	StatusCASLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_status_cas_lost_total",
			Help: "Status writes that lost the compare-and-set to another writer",
		},
		[]string{"path"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications emitted by kind and result",
		},
		[]string{"kind", "result"},
	)

	WeekResultsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "week_results_written_total",
			Help: "Weekly results inserted",
		},
	)

	ParticipantSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "participant_syncs_total",
			Help: "Per-participant activity syncs by result",
		},
		[]string{"result"},
	)

	ActivitiesFetched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activities_fetched_count",
			Help:    "Number of activities returned per participant fetch",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

// Strava API Metrics
var (
	StravaAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_api_requests_total",
			Help: "Total number of Strava API requests",
		},
		[]string{"operation", "status_code"},
	)

	StravaAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_api_request_duration_seconds",
			Help:    "Strava API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	StravaRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strava_rate_limit_usage",
			Help: "Strava API rate limit usage",
		},
		[]string{"limit_type", "bucket"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)
