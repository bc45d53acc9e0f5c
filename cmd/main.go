package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
	cfgPkg "github.com/manualqa/manualqa/pkg/config"
	"github.com/manualqa/manualqa/pkg/ingest"
	"github.com/manualqa/manualqa/pkg/llm"
	"github.com/manualqa/manualqa/pkg/query"
	"github.com/manualqa/manualqa/pkg/retriever"
	"github.com/manualqa/manualqa/pkg/store"
	"github.com/manualqa/manualqa/server"
)

type Flags struct {
	ConfigPath string
	IngestDir  string
	Ask        string
	Serve      string
	Stream     bool
	OllamaURL  string
	DBUrl      string
	IndexPath  string
	VectorDim  int
}

func main() {
	godotenv.Load()

	flags := parseFlags()

	config, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}
	applyFlags(config, flags)

	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	if err := run(config, flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.IngestDir, "ingest", "", "Directory of car manuals to ingest")
	flag.StringVar(&flags.Ask, "ask", "", "Ask a single question and exit")
	flag.StringVar(&flags.Serve, "serve", "", "Serve the API on this address, e.g. :8080")
	flag.BoolVar(&flags.Stream, "stream", true, "Stream answers over the websocket endpoint")
	flag.StringVar(&flags.OllamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&flags.DBUrl, "db-url", "", "PostgreSQL connection string (uses pgvector instead of the index file)")
	flag.StringVar(&flags.IndexPath, "index", "", "Path to the index file")
	flag.IntVar(&flags.VectorDim, "vector-dim", 0, "Embedding dimension (must match the embedding model)")
	flag.Parse()

	return flags
}

// applyFlags lets command line flags override the config file.
func applyFlags(config *cfgPkg.Config, flags Flags) {
	if flags.OllamaURL != "" {
		config.LLM.BaseURL = flags.OllamaURL
	}
	if flags.DBUrl != "" {
		config.Store.DBURL = flags.DBUrl
	}
	if flags.IndexPath != "" {
		config.Store.Path = flags.IndexPath
		config.Store.DBURL = ""
	}
	if flags.VectorDim != 0 {
		config.Store.VectorDim = flags.VectorDim
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(config *cfgPkg.Config, flags Flags) error {
	ctx := context.Background()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     config.LLM.EmbedModel,
		BaseURL:   config.LLM.BaseURL,
		RateLimit: config.LLM.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := buildStore(ctx, config, embedder.ModelID())
	if err != nil {
		return err
	}
	defer vectorStore.Close()

	// Ingest manuals if a directory is provided
	if flags.IngestDir != "" {
		if err := runIngest(ctx, config, flags.IngestDir, embedder, vectorStore); err != nil {
			return err
		}
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       config.LLM.ChatModel,
		MaxTokens:   config.LLM.MaxTokens,
		BaseURL:     config.LLM.BaseURL,
		Temperature: config.LLM.Temperature,
		MaxRetries:  config.LLM.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	engine, err := query.NewWithConfig(query.Config{
		TopK:            config.Retrieval.TopK,
		MinScore:        float32(config.Retrieval.MinScore),
		MaxContextChars: config.Retrieval.MaxContextChars,
	}, retriever.New(embedder, vectorStore), chatEngine)
	if err != nil {
		return err
	}

	if flags.Serve != "" {
		return server.New(engine, 2*time.Minute, flags.Stream).Start(flags.Serve)
	}

	if flags.Ask != "" {
		return askOnce(ctx, engine, flags.Ask)
	}

	return chatLoop(ctx, engine)
}

func buildStore(ctx context.Context, config *cfgPkg.Config, modelID string) (types.VectorStore, error) {
	if config.Store.DBURL != "" {
		pg, err := store.NewPgStore(ctx, store.PgConfig{
			ConnString: config.Store.DBURL,
			TableName:  config.Store.TableName,
			VectorDim:  config.Store.VectorDim,
			ModelID:    modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %v", err)
		}
		return pg, nil
	}

	// Load an existing index file if there is one, otherwise start
	// empty and persist on exit.
	if _, err := os.Stat(config.Store.Path); err == nil {
		fs, err := store.LoadFileStore(config.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load index %s: %v", config.Store.Path, err)
		}
		if fs.ModelID() != modelID {
			return nil, fmt.Errorf("index %s was built with embedding model %s, config says %s",
				config.Store.Path, fs.ModelID(), modelID)
		}
		if fs.VectorDim() != config.Store.VectorDim {
			return nil, fmt.Errorf("index %s has dimension %d, config says %d",
				config.Store.Path, fs.VectorDim(), config.Store.VectorDim)
		}
		return fs, nil
	}

	fs, err := store.NewFileStore(store.FileConfig{
		Path:      config.Store.Path,
		VectorDim: config.Store.VectorDim,
		ModelID:   modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %v", err)
	}
	return fs, nil
}

func runIngest(ctx context.Context, config *cfgPkg.Config, docsDir string, embedder types.Embedder, vectorStore types.VectorStore) error {
	color.Blue("\nIndexing manuals under %s\n", docsDir)

	bar := getProgressBar(-1, "Ingesting manuals...")

	orchestrator, err := ingest.NewWithConfig(ingest.Config{
		ChunkMaxChars:     config.Ingest.ChunkSize,
		ChunkOverlapChars: config.Ingest.ChunkOverlap,
		ChunkMinChars:     config.Ingest.MinChunkChars,
		BatchSize:         config.Ingest.BatchSize,
		Workers:           config.Ingest.Workers,
		OnProgress: func(res ingest.Result) {
			bar.Add(1)
		},
	}, embedder, vectorStore)
	if err != nil {
		return err
	}

	results, err := orchestrator.IngestDir(ctx, docsDir)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("ingestion failed: %v", err)
	}

	var done, unchanged, failed, passages int
	for _, res := range results {
		switch {
		case res.State == ingest.StateFailed:
			failed++
			color.Red("✗ %s: %v", res.SourcePath, res.Err)
		case res.Unchanged:
			unchanged++
		default:
			done++
			passages += res.Passages
		}
	}
	color.Green("\n✓ Indexed %d manuals (%d passages), %d unchanged, %d failed\n",
		done, passages, unchanged, failed)
	return nil
}

func askOnce(ctx context.Context, engine *query.Engine, question string) error {
	spinner := getSpinner("Searching the manuals...")
	answer, err := engine.AnswerQuestion(ctx, question)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}
	printAnswer(answer)
	return nil
}

func chatLoop(ctx context.Context, engine *query.Engine) error {
	color.Cyan("\nAsk about your car manuals (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		if question == "" {
			continue
		}

		spinner := getSpinner("Searching the manuals...")
		answer, err := engine.AnswerQuestion(ctx, question)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		printAnswer(answer)
	}

	return nil
}

func printAnswer(answer models.Answer) {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	assistantPrompt("\nAssistant: %s\n", answer.Text)

	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range answer.Citations {
			source := c.SourcePath
			if c.HeadingPath != "" {
				source += " > " + c.HeadingPath
			}
			fmt.Printf("  [%d] %s\n", c.Marker, source)
		}
	}
}
