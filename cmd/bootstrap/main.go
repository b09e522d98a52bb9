package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
	adaptermiddleware "servicegate/internal/adapters/http/middleware"
	adapterlogger "servicegate/internal/adapters/logger"
	"servicegate/internal/application"
	"servicegate/internal/infrastructure/auth"
	"servicegate/internal/infrastructure/dynamodb"
	"servicegate/internal/infrastructure/manifest"
	"servicegate/internal/infrastructure/rediscache"
	httpiface "servicegate/internal/interfaces/http"
)

type config struct {
	Port         string
	Region       string
	TableName    string
	RedisURL     string
	TokenSecret  string
	TokenIssuer  string
	ServiceID    string
	ManifestPath string
	StreamRoutes string
	HostName     string
	PublicHost   string
	PublicPort   int
	APIBaseURL   string
	AuthMode     adaptermiddleware.Mode
	ProxyTimeout time.Duration
}

func loadConfig() (config, error) {
	authMode, err := adaptermiddleware.ParseAuthMode()
	if err != nil {
		return config{}, err
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	publicPort, _ := strconv.Atoi(os.Getenv("PUBLIC_PORT"))
	if publicPort == 0 {
		publicPort, _ = strconv.Atoi(port)
	}
	proxyTimeout := httpiface.DefaultProxyTimeout
	if raw := os.Getenv("PROXY_TIMEOUT"); raw != "" {
		proxyTimeout, err = time.ParseDuration(raw)
		if err != nil {
			return config{}, errors.New("invalid PROXY_TIMEOUT")
		}
	}
	cfg := config{
		Port:         port,
		Region:       os.Getenv("AWS_REGION"),
		TableName:    os.Getenv("TABLE_NAME"),
		RedisURL:     os.Getenv("REDIS_URL"),
		TokenSecret:  os.Getenv("TOKEN_SECRET"),
		TokenIssuer:  os.Getenv("TOKEN_ISSUER"),
		ServiceID:    os.Getenv("SERVICE_ID"),
		ManifestPath: os.Getenv("MANIFEST_PATH"),
		StreamRoutes: os.Getenv("STREAM_ROUTES"),
		HostName:     os.Getenv("HOST_NAME"),
		PublicHost:   os.Getenv("PUBLIC_HOST"),
		PublicPort:   publicPort,
		APIBaseURL:   os.Getenv("API_BASE_URL"),
		AuthMode:     authMode,
		ProxyTimeout: proxyTimeout,
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379"
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = "servicegate"
	}
	if cfg.ServiceID == "" {
		cfg.ServiceID = "gateway"
	}
	if cfg.TableName == "" || cfg.Region == "" {
		return config{}, errors.New("missing required environment variables")
	}
	if cfg.TokenSecret == "" {
		return config{}, errors.New("TOKEN_SECRET is required")
	}
	if cfg.ManifestPath == "" {
		return config{}, errors.New("MANIFEST_PATH is required")
	}
	return cfg, nil
}

func main() {
	logger := adapterlogger.New()
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		logger.Error(ctx, "configuration error", "error", err)
		os.Exit(1)
	}
	xray.Configure(xray.Config{LogLevel: "error"})

	ddbClient, err := dynamodb.NewClient(ctx, cfg.Region, cfg.TableName)
	if err != nil {
		logger.Error(ctx, "failed to initialize dynamodb client", "error", err)
		os.Exit(1)
	}
	resourceRepo := dynamodb.NewResourceRepository(ddbClient)
	permRepo := dynamodb.NewPermissionRepository(ddbClient)
	shareRepo := dynamodb.NewPendingShareRepository(ddbClient)
	principalRepo := dynamodb.NewPrincipalRepository(ddbClient)

	redisClient, err := rediscache.NewClient(cfg.RedisURL)
	if err != nil {
		logger.Error(ctx, "failed to initialize redis client", "error", err)
		os.Exit(1)
	}
	cache := rediscache.New(redisClient, rediscache.DefaultTTL)

	tokenSvc, err := auth.NewTokenService([]byte(cfg.TokenSecret), cfg.TokenIssuer)
	if err != nil {
		logger.Error(ctx, "failed to initialize token service", "error", err)
		os.Exit(1)
	}

	authzSvc := application.NewAuthorizationService(resourceRepo, permRepo, cache)
	shareSvc := application.NewShareService(principalRepo, shareRepo, authzSvc)
	provisioner := application.NewGuestProvisioner(shareRepo, principalRepo, shareRepo, cache)
	pairingSvc := application.NewPairingService(tokenSvc, cfg.HostName, cfg.PublicHost, cfg.PublicPort, cfg.APIBaseURL, []string{cfg.ServiceID})

	resolver := manifest.NewResolver()
	if err := resolver.Load(cfg.ManifestPath); err != nil {
		logger.Error(ctx, "failed to load service manifest", "path", cfg.ManifestPath, "error", err)
		os.Exit(1)
	}
	watcher, err := manifest.NewWatcher(resolver, cfg.ManifestPath, logger)
	if err != nil {
		logger.Error(ctx, "failed to watch service manifest", "error", err)
		os.Exit(1)
	}
	go watcher.Run(ctx)

	streamRoutes, err := httpiface.ParseStreamRoutes(cfg.StreamRoutes)
	if err != nil {
		logger.Error(ctx, "invalid stream routes", "error", err)
		os.Exit(1)
	}

	var bearer echo.MiddlewareFunc
	if cfg.AuthMode == adaptermiddleware.ModeToken {
		bearer = auth.NewBearerMiddleware(tokenSvc, cfg.ServiceID).Handler
	}
	authMiddleware, err := adaptermiddleware.AuthMiddleware(bearer)
	if err != nil {
		logger.Error(ctx, "failed to initialize auth middleware", "error", err)
		os.Exit(1)
	}
	mw := httpiface.Middleware{
		Auth:          authMiddleware,
		XRay:          adaptermiddleware.XRayMiddleware("servicegate-http"),
		RequestLogger: adaptermiddleware.RequestLogger(logger),
	}
	handlers := httpiface.Handlers{
		Resources:   httpiface.NewResourcesHandler(authzSvc),
		Permissions: httpiface.NewPermissionsHandler(authzSvc),
		Shares:      httpiface.NewSharesHandler(shareSvc, provisioner),
		Pairing:     httpiface.NewPairingHandler(pairingSvc),
		Proxy:       httpiface.NewProxyHandler(resolver, logger, cfg.ProxyTimeout, nil),
		Streaming:   httpiface.NewStreamingRoutes(streamRoutes, logger),
	}

	e := httpiface.NewMainRouter(handlers, mw)
	logger.Info(ctx, "starting http server", "port", cfg.Port, "services", len(resolver.Services()))
	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
