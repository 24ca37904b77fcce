package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"SpriteForge/internal/api"
	"SpriteForge/internal/cache"
	"SpriteForge/internal/generation"
	"SpriteForge/internal/motion"
	"SpriteForge/internal/prompt"
	"SpriteForge/internal/storage/recordstore"
	"SpriteForge/internal/synthesis/procedural"
	"SpriteForge/internal/task"
	"SpriteForge/sdk/go/spriteforge"
)

// main 在进程内启动一个使用占位生成器的服务，并通过 SDK 提交一个异步任务。
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	records, err := recordstore.NewMemoryRepository("")
	if err != nil {
		panic(err)
	}
	assets := cache.NewMemoryStore("/sprites")
	jobStore := task.NewMemoryStore()
	generator, err := generation.NewService(generation.Dependencies{
		Motions:  motion.Builtin(),
		Prompts:  prompt.NewBuilder(),
		Cache:    assets,
		Provider: procedural.New(),
		Records:  records,
		Jobs:     jobStore,
	}, generation.Config{AtlasFrameSize: 256})
	if err != nil {
		panic(err)
	}

	queue := task.NewMemoryQueue(16)
	defer queue.Close()
	jobs := task.NewService(jobStore, queue, generator, task.DefaultMaxRetries)
	processor := task.NewProcessor(generator, jobStore, queue, queue, task.WithWorkerCount(2))
	go func() { _ = processor.Start(ctx) }()

	srv := httptest.NewServer(api.NewServer("", generator, jobs, api.WithAssets("/sprites", assets)).Handler())
	defer srv.Close()

	client, err := spriteforge.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	accepted, err := client.SubmitJob(ctx, spriteforge.SpriteRequest{
		Prompt:     "a knight with a red cape",
		Motions:    []string{"idle", "walk"},
		Seed:       42,
		Directions: []string{"east", "west"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted job %s (status=%s)\n", accepted.JobID, accepted.Status)

	job, err := client.WaitForJob(ctx, accepted.JobID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	if job.Result == nil {
		fmt.Printf("job %s ended with %s: %s\n", job.ID, job.Status, job.LastError)
		return
	}
	fmt.Printf("job %s %s: atlas=%s meta=%s\n", job.ID, job.Status, job.Result.AtlasURL, job.Result.MetaURL)

	usage, err := client.Usage(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("used %d of %d generations in the last %dh\n", usage.Used, usage.Limit, usage.WindowHours)
}
