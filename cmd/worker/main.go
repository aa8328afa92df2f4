package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/analysis"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/archive"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/config"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/db"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/objstore"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	objects, err := objstore.New(gdb)
	if err != nil {
		log.Fatalf("object store: %v", err)
	}

	repo, err := analysis.NewRepo(gdb)
	if err != nil {
		log.Fatalf("analysis repo: %v", err)
	}

	archiver := archive.New(objects, nil, archive.Options{Compress: cfg.ChatCompression})

	reg := analysis.NewRegistry()
	reg.Register("http", func() (analysis.Analyzer, error) {
		return analysis.NewHTTPAnalyzer(cfg.AnalysisBaseURL), nil
	})
	reg.Register("llm", func() (analysis.Analyzer, error) {
		return analysis.NewLLMAnalyzer(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), nil
	})
	analyzer, err := reg.Get(cfg.AnalysisProvider)
	if err != nil {
		log.Fatalf("analysis provider: %v", err)
	}
	svc := analysis.NewService(repo, archiver, objects, analyzer)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("declare topology: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := svc.Run(ctx, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
