package main

import (
	"SketchDetect/api"
	"SketchDetect/config"
	backend "SketchDetect/gRPC"
	"SketchDetect/inference"
	"SketchDetect/logger"
	"SketchDetect/monitor"
	"SketchDetect/session"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// UDP dial only resolves the route, nothing is sent
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func main() {
	cfg, warnings, err := config.Load("config.yaml")
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if cfg.LogMode != logger.ModeDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	fmt.Println(strings.Repeat("#", 64))
	if ip, err := GetOutboundIP(); err == nil {
		fmt.Println("Outbound IP:", ip)
	} else {
		fmt.Println("Failed to get outbound IP:", err)
	}
	fmt.Println(" HTTP    Port:", cfg.HTTPPort)
	fmt.Println(" gRPC    Port:", cfg.RPCPort)
	fmt.Println(" Metrics Port:", cfg.MetricsPort)
	fmt.Println(" Inference API:", cfg.APIBaseURL)
	fmt.Println(" Management API:", cfg.ManagementAPIURL)
	fmt.Printf(" Model: %s (version %q)\n", cfg.ModelName, cfg.ModelVersion)
	fmt.Println(strings.Repeat("#", 64))
	if len(warnings) > 0 {
		fmt.Println(strings.Repeat("!", 64))
		for _, w := range warnings {
			fmt.Println(w)
			logger.Log().Warn("config", zap.String("warning", w))
		}
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println("")

	client := inference.NewClient(inference.Endpoint{
		APIBaseURL:    cfg.APIBaseURL,
		ManagementURL: cfg.ManagementAPIURL,
		ModelName:     cfg.ModelName,
		ModelVersion:  cfg.ModelVersion,
		Timeout:       cfg.RequestTimeout,
	})
	health := backend.NewHealthReporter(cfg.ModelName)
	mgr := session.NewManager(client, session.Options{
		Width:         cfg.CanvasWidth,
		Height:        cfg.CanvasHeight,
		BrushSize:     cfg.BrushSize,
		JPEGQuality:   cfg.JPEGQuality,
		IdleTimeout:   cfg.IdleTimeout,
		DebugLogLines: cfg.DebugLogLines,
	}, health)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// seed the health service before the first page opens
	go func() { health.ObserveStatus(client.CheckStatus(ctx)) }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.StartMon(ctx, cfg.MetricsPort); err != nil {
			logger.Log().Error("monitor stopped", zap.Error(err))
		}
	}()

	fmt.Println("Starting gRPC Server")
	lis, err := backend.Listen(cfg.RPCPort)
	if err != nil {
		logger.Log().Fatal("gRPC listen", zap.Error(err))
	}
	rpc := backend.StartGRPCServer(lis, health)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.New(mgr, client).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log().Info("HTTP listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	fmt.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Warn("HTTP shutdown", zap.Error(err))
	}
	mgr.Close()
	health.Shutdown()
	rpc.GracefulStop()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
}
