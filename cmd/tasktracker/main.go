package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/gorilla/mux"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authendpoint"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authservice"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authtransport"
	"github.com/ichigozero/tasktracker/tasksvc"
	taskgorm "github.com/ichigozero/tasktracker/tasksvc/db/gorm"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskendpoint"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskservice"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/tasktransport"
	"github.com/ichigozero/tasktracker/usersvc"
	usergorm "github.com/ichigozero/tasktracker/usersvc/db/gorm"
	"github.com/ichigozero/tasktracker/usersvc/pkg/userservice"
	"github.com/joho/godotenv"
	"github.com/oklog/oklog/pkg/group"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	libgorm "gorm.io/gorm"
)

func main() {
	// A missing .env is fine; real environment variables take precedence.
	_ = godotenv.Load()

	fs := flag.NewFlagSet("tasktracker", flag.ExitOnError)
	var (
		httpAddr = fs.String(
			"http.addr",
			getEnv("HTTP_ADDR", ":8080"),
			"HTTP listen address",
		)
		databaseURL = fs.String(
			"database.url",
			getEnv("DATABASE_URL", ""),
			"Postgres URL; SQLite is used when empty",
		)
		sqlitePath = fs.String(
			"sqlite.path",
			getEnv("SQLITE_PATH", "gorm.db"),
			"SQLite database file",
		)
		dbMaxOpenConns = fs.Int(
			"db.max-open-conns",
			getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			"maximum open database connections",
		)
		accessSecret = fs.String(
			"access.secret",
			getEnv("ACCESS_SECRET", ""),
			"HMAC secret for access tokens",
		)
		accessExpiry = fs.Duration(
			"access.expiry",
			getEnvAsDuration("ACCESS_EXPIRY", authservice.DefaultAccessTokenExpiry),
			"access token lifetime",
		)
		bcryptCost = fs.Int(
			"bcrypt.cost",
			getEnvAsInt("BCRYPT_COST", 10),
			"bcrypt cost for password hashes",
		)
		rateLimit = fs.Int(
			"rate.limit",
			getEnvAsInt("RATE_LIMIT", 100),
			"requests per second across all endpoints, 0 disables",
		)
		rateBurst = fs.Int(
			"rate.burst",
			getEnvAsInt("RATE_BURST", 100),
			"rate limiter burst size",
		)
		logLevel = fs.String(
			"log.level",
			getEnv("LOG_LEVEL", "info"),
			"debug, info, warn or error",
		)
	)

	fs.Usage = usageFor(fs, os.Args[0]+" [flags]")
	fs.Parse(os.Args[1:])

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = level.NewFilter(logger, levelOption(*logLevel))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	if *accessSecret == "" {
		level.Error(logger).Log("err", "ACCESS_SECRET must be set")
		os.Exit(1)
	}

	var db *libgorm.DB
	var err error
	{
		if *databaseURL != "" {
			db, err = libgorm.Open(postgres.Open(*databaseURL), &libgorm.Config{})
		} else {
			db, err = libgorm.Open(sqlite.Open(*sqlitePath), &libgorm.Config{})
		}
		if err != nil {
			level.Error(logger).Log("during", "Open", "err", err)
			os.Exit(1)
		}

		sqlDB, err := db.DB()
		if err != nil {
			level.Error(logger).Log("during", "DB", "err", err)
			os.Exit(1)
		}
		sqlDB.SetMaxOpenConns(*dbMaxOpenConns)

		if err := db.AutoMigrate(&usersvc.User{}, &tasksvc.Task{}); err != nil {
			level.Error(logger).Log("during", "AutoMigrate", "err", err)
			os.Exit(1)
		}
	}

	fieldKeys := []string{"method", "error"}

	var users userservice.Service
	{
		users = userservice.New(usergorm.NewUserRepository(db), *bcryptCost, log.With(logger, "component", "users"))
		users = userservice.InstrumentingMiddleware(
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "api",
				Subsystem: "user_service",
				Name:      "request_count",
				Help:      "Number of requests received.",
			}, []string{"method"}),
			kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
				Namespace: "api",
				Subsystem: "user_service",
				Name:      "request_latency_seconds",
				Help:      "Total duration of requests in seconds.",
			}, []string{"method"}),
		)(users)
	}

	var auth authservice.Service
	{
		tokenizer := authservice.NewTokenizer([]byte(*accessSecret), *accessExpiry)
		auth = authservice.New(tokenizer, users, log.With(logger, "component", "auth"))
	}

	var tasks taskservice.Service
	{
		tasks = taskservice.New(taskgorm.NewTaskRepository(db), log.With(logger, "component", "tasks"))
		tasks = taskservice.InstrumentingMiddleware(
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "api",
				Subsystem: "task_service",
				Name:      "request_count",
				Help:      "Number of requests received.",
			}, fieldKeys),
			kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
				Namespace: "api",
				Subsystem: "task_service",
				Name:      "request_latency_seconds",
				Help:      "Total duration of requests in seconds.",
			}, fieldKeys),
		)(tasks)
	}

	var limiter *rate.Limiter
	if *rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rateLimit), *rateBurst)
	}

	var (
		authEndpoints = authendpoint.New(auth, limiter, log.With(logger, "component", "auth"))
		taskEndpoints = taskendpoint.New(tasks, limiter, log.With(logger, "component", "tasks"))
		authenticate  = authtransport.NewBearerAuth([]byte(*accessSecret), users)
	)

	r := mux.NewRouter()
	{
		authHTTPHandler := authtransport.NewHTTPHandler(authEndpoints, logger)
		r.PathPrefix("/auth").Handler(http.StripPrefix("/auth", authHTTPHandler))
	}
	{
		taskHTTPHandler := tasktransport.NewHTTPHandler(taskEndpoints, authenticate, logger)
		r.PathPrefix("/").Handler(taskHTTPHandler)
	}

	var g group.Group
	{
		httpListener, err := net.Listen("tcp", *httpAddr)
		if err != nil {
			level.Error(logger).Log("transport", "HTTP", "during", "Listen", "err", err)
			os.Exit(1)
		}
		g.Add(func() error {
			level.Info(logger).Log("transport", "HTTP", "addr", *httpAddr)
			return http.Serve(httpListener, r)
		}, func(error) {
			httpListener.Close()
		})
	}
	{
		// This function just sits and waits for ctrl-C.
		cancelInterrupt := make(chan struct{})
		g.Add(func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-c:
				return fmt.Errorf("received signal %s", sig)
			case <-cancelInterrupt:
				return nil
			}
		}, func(error) {
			close(cancelInterrupt)
		})
	}
	level.Info(logger).Log("exit", g.Run())
}

func levelOption(s string) level.Option {
	switch strings.ToLower(s) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	}
	return level.AllowInfo()
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}

func getEnv(key, fallback string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	if v, err := time.ParseDuration(value); err == nil {
		return v
	}
	return fallback
}
