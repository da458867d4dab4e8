// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/handler"
	"chatfabrica-go/internal/middleware"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/pipeline"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/crawler"
	"chatfabrica-go/pkg/database"
	"chatfabrica-go/pkg/es"
	"chatfabrica-go/pkg/kafka"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/mailer"
	"chatfabrica-go/pkg/secret"
	"chatfabrica-go/pkg/storage"
	"chatfabrica-go/pkg/tasks"
	"chatfabrica-go/pkg/tika"
	"chatfabrica-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// localQueueBuffer 是进程内任务队列的缓冲长度。
const localQueueBuffer = 256

func main() {
	// 1. 初始化配置
	configPath := "./configs/config.yaml"
	if p := os.Getenv("CHATFABRICA_CONFIG"); p != "" {
		configPath = p
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与外部依赖
	database.InitMySQL(cfg.Database.MySQL.DSN, model.All()...)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	box, err := secret.NewBox(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatal("加密密钥无效", err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	store, err := storage.NewMinioStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}

	var index es.ExchangeIndex
	if cfg.Elasticsearch.Enabled {
		esClient, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Fatal("es 初始化失败", err)
		}
		index = esClient
	}

	var mail mailer.Mailer
	if cfg.Mail.Host != "" {
		mail = mailer.NewMailer(cfg.Mail)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	grantRepo := repository.NewPlanGrantRepository(database.DB)
	chatbotRepo := repository.NewChatbotRepository(database.DB)
	chatLogRepo := repository.NewChatLogRepository(database.DB)
	analyticsRepo := repository.NewAnalyticsRepository(database.DB)
	lockRepo := repository.NewThreadLockRepository(database.RDB)

	// 5. 后台任务：Kafka 启用时走 Kafka，否则走进程内队列，两者共用同一个 Processor
	processor := pipeline.NewProcessor(mail, analyticsRepo, index)
	var dispatcher tasks.Dispatcher
	var closeDispatcher func()
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		dispatcher = producer
		closeDispatcher = func() {
			if err := producer.Close(); err != nil {
				log.Errorf("关闭 Kafka 生产者失败: %v", err)
			}
		}
		go kafka.StartConsumer(rootCtx, cfg.Kafka, database.RDB, processor)
	} else {
		queue := tasks.NewLocalQueue(processor, cfg.Kafka.Workers, localQueueBuffer)
		queue.Start(rootCtx)
		dispatcher = queue
		closeDispatcher = queue.Close
	}

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	gateway := service.NewGateway(box, llm.NewFactory(cfg.OpenAI))
	tikaClient := tika.NewClient(cfg.Tika)
	crawlerClient := crawler.NewClient(cfg.Crawler)

	userService := service.NewUserService(userRepo, grantRepo, analyticsRepo, box, jwtManager, dispatcher)
	creditService := service.NewCreditService(userRepo, grantRepo, dispatcher)
	chatbotService := service.NewChatbotService(userRepo, grantRepo, chatbotRepo, chatLogRepo, gateway, dispatcher, index, store, cfg.OpenAI, cfg.Credits)
	trainingService := service.NewTrainingService(userRepo, grantRepo, chatbotRepo, gateway, dispatcher, cfg.Ingestion)
	documentService := service.NewDocumentService(userRepo, grantRepo, chatbotRepo, gateway, tikaClient, cfg.Ingestion)
	crawlService := service.NewCrawlService(userRepo, chatbotRepo, gateway, crawlerClient, cfg.Ingestion)
	conversationService := service.NewConversationService(userRepo, chatbotRepo, chatLogRepo, lockRepo, creditService, gateway, dispatcher, cfg.Credits, cfg.Conversation)
	chatLogService := service.NewChatLogService(chatbotRepo, chatLogRepo, index)
	planService := service.NewPlanService(userRepo, grantRepo, cfg.Plans)
	storageService := service.NewStorageService(chatbotRepo, store)

	// 7. 初始化 Handler
	userHandler := handler.NewUserHandler(userService)
	chatbotHandler := handler.NewChatbotHandler(chatbotService)
	documentHandler := handler.NewDocumentHandler(trainingService, documentService, crawlService)
	conversationHandler := handler.NewConversationHandler(conversationService, chatbotService)
	chatHandler := handler.NewChatHandler(conversationService)
	chatLogHandler := handler.NewChatLogHandler(chatLogService)
	uploadHandler := handler.NewUploadHandler(storageService)
	planHandler := handler.NewPlanHandler(planService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/api-key", userHandler.SaveAPIKey)
				authed.GET("/analytics", userHandler.GetAnalytics)
				authed.GET("/credits", userHandler.GetCredits)
			}
		}

		// Chatbot 路由组，需要认证
		chatbots := apiV1.Group("/chatbots")
		chatbots.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatbots.POST("", chatbotHandler.Create)
			chatbots.GET("", chatbotHandler.List)
			chatbots.GET("/:chatbotId", chatbotHandler.Get)
			chatbots.PATCH("/:chatbotId", chatbotHandler.Update)
			chatbots.DELETE("/:chatbotId", chatbotHandler.Delete)

			chatbots.POST("/:chatbotId/train", documentHandler.Train)
			chatbots.POST("/:chatbotId/files", documentHandler.UploadFile)
			chatbots.DELETE("/:chatbotId/items", documentHandler.RemoveItems)
			chatbots.PUT("/:chatbotId/links", documentHandler.UpdateLinks)
			chatbots.POST("/:chatbotId/crawl", documentHandler.Crawl)
			chatbots.POST("/:chatbotId/crawl/single", documentHandler.CrawlSingle)
			chatbots.POST("/:chatbotId/crawl/sitemap", documentHandler.CrawlSitemap)

			chatbots.POST("/:chatbotId/messages", conversationHandler.SendMessage)

			chatbots.GET("/:chatbotId/logs", chatLogHandler.List)
			chatbots.GET("/:chatbotId/logs/search", chatLogHandler.Search)
			chatbots.GET("/:chatbotId/logs/:logId", chatLogHandler.Get)

			chatbots.POST("/:chatbotId/icon", uploadHandler.UploadIcon)
			chatbots.DELETE("/:chatbotId/icon", uploadHandler.RemoveIcon)
		}

		// iframe 小组件路由，无需认证
		iframe := apiV1.Group("/iframe/chatbots")
		{
			iframe.GET("/:chatbotId", chatbotHandler.GetPublic)
			iframe.POST("/:chatbotId/message", conversationHandler.SendPublicMessage)
			iframe.GET("/:chatbotId/ws", chatHandler.Handle)
		}

		// 定时任务调用的维护接口，使用共享密钥
		plans := apiV1.Group("/plans")
		plans.Use(middleware.MaintenanceAuthMiddleware(cfg.Server.MaintenanceToken))
		{
			plans.POST("/check-expired", planHandler.CheckExpired)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 先等进程内队列把已入队的任务处理完，再取消消费者
	closeDispatcher()
	cancelRoot()
	database.Close()
	log.Info("服务已优雅关闭")
}
