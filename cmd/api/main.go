package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/crypto"
	"github.com/wenwu/saas-platform/vps-service/internal/db"
	"github.com/wenwu/saas-platform/vps-service/internal/http"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
	"github.com/wenwu/saas-platform/vps-service/internal/service"
)

func main() {
	log.Println("Starting VPS Service...")

	// Local development config; production uses real environment variables.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN(), cfg.Database.Schema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(pool)
	vpsRepo := repository.NewVPSRepository(pool)
	regionRepo := repository.NewRegionRepository(pool)
	hypervisorRepo := repository.NewHypervisorRepository(pool)
	templateRepo := repository.NewTemplateRepository(pool)
	ipRepo := repository.NewIPRepository(pool)
	pricingRepo := repository.NewPricingRepository(pool)
	logRepo := repository.NewLogRepository(pool)
	policyRepo := repository.NewBackupPolicyRepository(pool)
	historyRepo := repository.NewBackupHistoryRepository(pool)
	storageRepo := repository.NewBackupStorageRepository(pool)

	// Initialize clients
	cipher, err := crypto.NewTokenCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}

	proxmox, err := client.NewProxmoxClient(
		cfg.Proxmox.Port,
		cfg.Proxmox.RootCAFile,
		cipher,
		cfg.Proxmox.PollEvery,
		cfg.Proxmox.TaskTimeout,
	)
	if err != nil {
		log.Fatalf("Failed to initialize hypervisor client: %v", err)
	}

	xendit := client.NewXenditClient(cfg.Xendit.BaseURL, cfg.Xendit.SecretKey)

	// Initialize services
	provisionService := service.NewProvisionService(
		orderRepo, vpsRepo, regionRepo, hypervisorRepo,
		templateRepo, ipRepo, pricingRepo, storageRepo, logRepo, proxmox,
	)
	reinstallService := service.NewReinstallService(
		vpsRepo, hypervisorRepo, templateRepo, ipRepo, logRepo, proxmox,
		cfg.Proxmox.TaskTimeout,
	)
	lifecycleService := service.NewLifecycleService(
		vpsRepo, hypervisorRepo, templateRepo, ipRepo, logRepo, proxmox,
	)
	backupService := service.NewBackupService(policyRepo, historyRepo, storageRepo, cfg.Backup)
	restoreService := service.NewRestoreService(historyRepo, storageRepo, vpsRepo, logRepo, cfg.Backup)
	orderService := service.NewOrderService(orderRepo, pricingRepo, regionRepo, xendit, cfg.Xendit)
	paymentService := service.NewPaymentService(orderRepo, provisionService)
	storageService := service.NewStorageService(storageRepo)
	templateService := service.NewTemplateService(regionRepo, hypervisorRepo, templateRepo, proxmox)

	// Start the background scheduler
	scheduler := service.NewSchedulerService(
		cfg.Scheduler,
		lifecycleService,
		backupService,
		backupService,
		policyRepo,
		storageService,
		templateService,
	)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize HTTP server
	handler := http.NewHandler(
		orderService, provisionService, reinstallService, restoreService,
		backupService, storageService, templateService,
		regionRepo, logRepo, cfg.Backup.TmpDir,
	)
	webhooks := http.NewWebhookHandler(paymentService)
	server := http.NewServer(cfg, handler, webhooks)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()
	log.Println("Server exited")
}
