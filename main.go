package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"botarena/auth"        //ボットの認証ハンドシェイク
	"botarena/database"    //PostgreSQLとRedisの初期化、記録の保存
	"botarena/games"       //ゲームモジュールの一覧
	"botarena/gateway"     //websocket接続
	"botarena/handlers"    //HTTPのルーティング
	"botarena/matcher"     //対戦相手の組み合わせ
	"botarena/middlewares" //管理者トークン
	"botarena/migrations"  //テーブルのマイグレーション
	"botarena/session"     //対戦の進行
	"botarena/utils"       //ロガーの初期化とCronジョブ

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config.json", "設定ファイルのパス")
	issueToken := flag.String("admin-token", "", "指定した名前で管理者トークンを発行して終了する")
	flag.Parse()

	config, err := database.LoadConfig(*configPath)
	if err != nil {
		panic(err) // ロガーが無いのでプログラム停止
	}

	logger, err := utils.InitLogger(config.LogLevel) // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	if *issueToken != "" {
		token, err := middlewares.GenerateToken([]byte(config.AdminSecret), *issueToken, 24*time.Hour)
		if err != nil {
			logger.Fatal("Failed to generate admin token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	// 非同期でPostgreSQLとRedisの初期化
	var db *gorm.DB
	var rdb *redis.Client
	done := make(chan bool)

	go func() {
		var err error
		db, err = database.InitPostgreSQL(config, logger)
		if err != nil {
			logger.Fatal("PostgreSQLの初期化に失敗しました", zap.Error(err))
		}
		done <- true
	}()

	go func() {
		var err error
		rdb, err = database.InitRedis(config, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done
	defer rdb.Close()

	if err := migrations.AutoMigrateDB(db, logger); err != nil {
		logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := database.NewStore(db, logger)
	registry := games.Default()
	engine := session.NewEngine(store, session.Config{
		DisconnectGrace: config.DisconnectGrace.Duration,
		StrikeLimit:     config.StrikeLimit,
	}, logger)

	m := matcher.New(matcher.NewRedisLedger(rdb), config.GamesEachWay, func(p matcher.Pairing) {
		module, ok := registry.New(p.Key.GameType)
		if !ok {
			// 認証時に確認済みなのでここには来ない
			logger.Error("Unknown game type", zap.String("gameType", p.Key.GameType))
			p.First.Conn.Close()
			p.Second.Conn.Close()
			return
		}
		go engine.Run(ctx, session.FromPairing(p, module))
	}, logger)
	defer m.Close()

	authenticator := auth.New(store, m, registry.Has, config.HandshakeTimeout.Duration, logger)

	// クーロンスケジューラのセットアップと呼び出し
	cron, err := utils.CronCleaner(store, m, config.SessionRetention.Duration, logger)
	if err != nil {
		logger.Fatal("Failed to schedule cron jobs", zap.Error(err))
	}
	defer cron.Stop()

	router := handlers.NewRouter(handlers.Dependencies{
		BaseContext:    ctx,
		Gateway:        gateway.New(config.AllowedOrigins, logger),
		Authenticator:  authenticator,
		Credentials:    store,
		KnownGame:      registry.Has,
		Queues:         m,
		Sessions:       engine,
		AdminSecret:    []byte(config.AdminSecret),
		AllowedOrigins: config.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:    config.ListenAddr,
		Handler: router,
	}
	go func() {
		logger.Info("Listening", zap.String("addr", config.ListenAddr), zap.Strings("games", registry.Names()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run HTTP server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijack された websocket 接続は Shutdown の対象外で、ctx の終了でセッションごとに閉じる
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
}
