package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/studkg/cashier/internal/app/api/server"
	notificationhandler "github.com/studkg/cashier/internal/app/service/notification_handler"
	notificationlog "github.com/studkg/cashier/internal/app/service/notification_log"
	"github.com/studkg/cashier/internal/app/service/payment"
	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/statistics"
	"github.com/studkg/cashier/internal/app/service/subscription"
	"github.com/studkg/cashier/internal/platform/cache"
	"github.com/studkg/cashier/internal/platform/db"
	"github.com/studkg/cashier/internal/platform/finik"
	"github.com/studkg/cashier/pkg/config"
	"github.com/studkg/cashier/pkg/logger"
	"github.com/studkg/cashier/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Platform is everything below the services: config, logging, storage and
// the gateway client. finikctl reuses it without the HTTP server.
var Platform = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	db.Module,
	cache.Module,
	finik.Module,
)

var Services = fx.Options(
	referral.Module,
	subscription.Module,
	payment.Module,
	statistics.Module,
	notificationlog.Module,
	notificationhandler.Module,
)

var Module = fx.Options(
	Platform,
	Services,
	server.Module,
)
