package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/handler/restapi"
	"github.com/bulletin/board/monitoring"
	"github.com/bulletin/board/service/cacheService"
	"github.com/bulletin/board/service/postService"
	"github.com/bulletin/board/service/schemaService"
	"github.com/bulletin/board/service/uploadService"
	"github.com/bulletin/board/service/userService"
)

// jwtUserProperty - request context key the JWT middleware stores checked tokens under
const jwtUserProperty = "user"

// shutdownTimeout - time in-flight requests get to finish after a stop signal
const shutdownTimeout = 15 * time.Second

// SetupLogger - configures the standard logrus logger
func SetupLogger(config *Config) {
	if config.Production {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", config.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// OpenStore - PostgreSQL store when a database URL is configured, JSON file store otherwise.
// Reads go through the redis cache when a redis address is configured. The returned func releases connections
func OpenStore(config *Config) (postService.Store, func(), error) {
	logger := log.WithField("component", "postService")
	evolver := schemaService.NewEvolver(config.MaxNewColumns, config.MaxDynamicColumns,
		log.WithField("component", "schemaService"))

	var store postService.Store
	closers := make([]func() error, 0, 2)
	closeAll := func() {
		for _, closer := range closers {
			if err := closer(); err != nil {
				log.Errorf("Error closing connection: %s", err)
			}
		}
	}

	if config.DatabaseURL != "" {
		log.Info("Opening database...")
		db, err := postService.Connect(postService.DBConfig{
			URL:        config.DatabaseURL,
			SSLRequire: config.DBSSLRequire,
			Production: config.Production,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)

		if err = postService.MigrationsUp(db); err != nil {
			closeAll()
			return nil, nil, err
		}
		log.Info("Database successfully opened")
		store = postService.NewSQLStore(db, evolver, logger)
	} else {
		log.Infof("No database configured, storing posts in %s", config.DataFile)
		fileStore, err := postService.NewFileStore(config.DataFile, evolver, logger)
		if err != nil {
			return nil, nil, err
		}
		store = fileStore
	}

	if config.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
		})
		closers = append(closers, redisClient.Close)

		cache := cacheService.NewPostsCache(redisClient, config.CacheTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.Ping(ctx); err != nil {
			// the cache degrades to misses while redis is away
			log.Warnf("Redis is not reachable at %s: %s", config.RedisAddr, err)
		}
		cancel()
		store = postService.NewCachedStore(store, cache)
		log.Infof("Caching posts in redis at %s", config.RedisAddr)
	}

	return store, closeAll, nil
}

// withRequestTimeout - bounds the context every handler and store call runs with
func withRequestTimeout(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// filesOnly - file system that hides directories, so the upload directory can't be listed
type filesOnly struct {
	http.FileSystem
}

func (fs filesOnly) Open(name string) (http.File, error) {
	file, err := fs.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if stat.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

// NewRouter - sets api, metrics, uploaded media and front-end handlers
func NewRouter(config *Config, store postService.Store, uploader *uploadService.Uploader) *mux.Router {
	jwtSecret := []byte(config.JWTSecret)
	hideDetails := config.Production

	handlers := &restapi.Handlers{
		Posts: restapi.NewPostAPIHandler(store, uploader, config.MaxBodySize(), hideDetails,
			log.WithField("component", "restApi.post")),
		Comments: restapi.NewCommentAPIHandler(store, hideDetails,
			log.WithField("component", "restApi.comment")),
		Users: restapi.NewUserAPIHandler(userService.NewAccounts(config.Accounts), jwtSecret, jwtUserProperty,
			config.AuthEnforced, hideDetails, log.WithField("component", "restApi.user")),
		JWTMiddleware: restapi.NewJWTMiddleware(jwtSecret, jwtUserProperty,
			log.WithField("component", "restApi.jwt")),
	}

	router := mux.NewRouter()
	router.Use(monitoring.NewServerMiddleware)
	router.Use(withRequestTimeout(config.RequestTimeout))

	// set rest api handlers
	handlers.RegisterRoutes(router)

	router.HandleFunc("/api/hc", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			log.Errorf("Health check failed: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// set uploaded media and frontend static files paths
	router.PathPrefix(uploader.URLPrefix).Handler(
		http.StripPrefix(uploader.URLPrefix, http.FileServer(filesOnly{http.Dir(uploader.Dir)}))).Methods("GET")
	router.PathPrefix("/").Handler(http.FileServer(http.Dir(config.StaticDir))).Methods("GET")

	return router
}

// RunServer - wires dependencies from config and serves until SIGINT or SIGTERM
func RunServer(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	SetupLogger(config)

	store, closeStore, err := OpenStore(config)
	if err != nil {
		return errors.Wrap(err, "error opening post store")
	}
	defer closeStore()

	uploader, err := uploadService.NewUploader(config.UploadDir, uploadService.DefaultURLPrefix,
		config.MaxUploadSize, config.MaxUploadFiles, log.WithField("component", "uploadService"))
	if err != nil {
		return err
	}

	server := &http.Server{
		// omitting host will run server on all interfaces
		Addr:              ":" + config.Port,
		Handler:           NewRouter(config, store, uploader),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.RequestTimeout,
		WriteTimeout:      config.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErrors := make(chan error, 1)
	go func() {
		log.Infof("Starting server on port %s", config.Port)
		serveErrors <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err = <-serveErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case sig := <-stop:
		log.Infof("Got %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "error shutting down server")
	}
	log.Info("Server stopped")
	return nil
}
