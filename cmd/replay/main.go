// SPDX-License-Identifier: AGPL-3.0-or-later

// Command replay is an operator tool that reopens a company's dead-letter
// entries and re-enqueues them for another dispatch attempt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/infrastructure/config"
	"github.com/btouchard/sendforge/internal/infrastructure/database"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
)

func main() {
	var companyFlag = flag.String("company", "", "Company id (UUID) whose DLQ entries to replay")
	var limit = flag.Int("limit", 100, "Maximum number of DLQ entries to replay")
	var maxConsecutiveFailures = flag.Uint64("max-consecutive-failures", 5, "Abort after this many replay failures in a row")
	flag.Parse()

	if *companyFlag == "" {
		log.Fatal("-company is required")
	}
	companyID, err := uuid.Parse(*companyFlag)
	if err != nil {
		log.Fatal("invalid -company: ", err)
	}

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config: ", err)
	}

	db, err := database.InitDB(ctx, database.Config{
		DSN: cfg.Database.AdminDSN, MaxOpenConn: cfg.Database.MaxOpenConn, MaxIdleConn: cfg.Database.MaxIdleConn,
	})
	if err != nil {
		log.Fatal("init database: ", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr, DB: cfg.Queue.RedisDB})
	defer rdb.Close()
	q := queue.New(rdb, cfg.Queue.QueueName)

	replay := services.NewReplayService(database.NewOutboxRepository(db), database.NewDLQRepository(db), q, cfg.Queue.JobTTL)

	result, err := replay.ReplayCompany(ctx, companyID, *limit, *maxConsecutiveFailures)
	if err != nil {
		log.Fatal("replay: ", err)
	}

	fmt.Printf("replayed=%d failed=%d aborted=%v\n", result.Replayed, result.Failed, result.Aborted)
	if result.Aborted {
		os.Exit(1)
	}
}
