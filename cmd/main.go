package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/ragerr"
	"pdf-rag/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

var jsonOutput bool

var (
	boldGreen  = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	boldRed    = color.New(color.FgRed, color.Bold).SprintFunc()
	faint      = color.New(color.Faint).SprintFunc()
	boldYellow = color.New(color.FgYellow, color.Bold).SprintFunc()
)

func main() {
	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	reset := flag.Bool("reset", false, "Delete every indexed chunk before ingesting")
	exportPath := flag.String("export", "", "Export the chromem collection to this file after ingesting")
	importPath := flag.String("import", "", "Import a chromem collection exported with -export")
	query := flag.String("query", "", "Question to answer")
	chat := flag.Bool("chat", false, "Start an interactive chat over the indexed documents")
	flag.BoolVar(&jsonOutput, "json", false, "Print answers as JSON")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Console)
	log.Debug().Str("config", *configPath).Str("vector_store", cfg.VectorStore.Type).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := embedding.New(&cfg.EmbedLLM, cfg.RAG.EmbedBatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	store, chromemStore, err := openStore(ctx, cfg, embedder.ModelID())
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}

	var llm llms.Model
	if *query != "" || *chat {
		llm, err = llmservice.NewModel(&cfg.InferenceLLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing generation model")
		}
	}

	session, err := rag.NewSession(cfg, embedder, store, llm)
	if err != nil {
		log.Fatal().Err(err).Msg("Error starting session")
	}
	defer session.Close()

	if *reset {
		if err := session.Reset(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error resetting vector store")
		}
		fmt.Println(boldYellow("Vector store cleared"))
	}

	if *importPath != "" {
		if chromemStore == nil {
			log.Fatal().Msg("-import needs the chromem vector store")
		}
		if err := chromemStore.Import(ctx, *importPath); err != nil {
			log.Fatal().Err(err).Msg("Error importing collection")
		}
	}

	if files := flag.Args(); len(files) > 0 {
		printReports(ingestFiles(ctx, session, files))
	}

	if *exportPath != "" {
		if chromemStore == nil {
			log.Fatal().Msg("-export needs the chromem vector store")
		}
		if err := chromemStore.Export(ctx, *exportPath); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collection")
		}
		fmt.Printf("Exported collection to %s\n", boldCyan(*exportPath))
	}

	switch {
	case *query != "":
		ask(ctx, session, *query)
	case *chat:
		chatLoop(ctx, session)
	}
}

// openStore returns the configured vector store; the chromem store is also
// returned on its own for export and import.
func openStore(ctx context.Context, cfg *config.Config, modelID string) (vectorstore.Store, *chromemdb.Store, error) {
	vs := cfg.VectorStore
	if vs.Type == "pgvector" {
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, nil, ragerr.Retrieval("main.openStore", err)
		}
		store, err := db.NewStore(ctx, db.NewDB(sqldb, cfg.Database.Debug), vs.Collection, modelID)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	if !vs.InMemory {
		if err := helper.CreateFolder(vs.Path); err != nil {
			return nil, nil, ragerr.Retrieval("main.openStore", err)
		}
	}
	store, err := chromemdb.NewStore(chromemdb.Options{
		Path:          vs.Path,
		Collection:    vs.Collection,
		InMemory:      vs.InMemory,
		Compress:      vs.Compress,
		EncryptionKey: vs.EncryptionKey,
	}, modelID)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

// ingestFiles extracts every file and ingests the readable ones. Files that
// cannot be extracted are reported as failed.
func ingestFiles(ctx context.Context, session *rag.Session, files []string) []models.IngestReport {
	var (
		docs    []models.Document
		reports []models.IngestReport
	)
	for _, file := range files {
		doc, err := parser.Extract(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Error extracting document")
			reports = append(reports, models.IngestReport{DocumentID: doc.ID, State: models.IngestFailed, Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	return append(reports, session.Ingest(ctx, docs...)...)
}

func printReports(reports []models.IngestReport) {
	for _, r := range reports {
		if r.State == models.IngestIndexed {
			fmt.Printf("%s %s (%d chunks)\n", boldGreen("indexed"), r.DocumentID, r.Chunks)
			continue
		}
		fmt.Printf("%s %s: %v\n", boldRed("failed "), r.DocumentID, r.Err)
	}
}

func ask(ctx context.Context, session *rag.Session, question string) {
	turn, err := session.Query(ctx, question)
	if err != nil {
		fmt.Printf("%s %s error: %v\n", boldRed("Query failed:"), ragerr.KindOf(err), err)
		return
	}
	printTurn(turn)
}

func printTurn(turn *models.ChatTurn) {
	if jsonOutput {
		helper.PrettyPrint(turn)
		return
	}
	fmt.Println(boldCyan("Assistant: ") + turn.Answer)
	if len(turn.Sources) == 0 {
		fmt.Println()
		return
	}
	fmt.Println(faint(fmt.Sprintf("confidence %.2f", turn.Confidence)))
	for _, s := range turn.Sources {
		fmt.Println(faint(fmt.Sprintf("  %s chunk %d, page %d (score %.3f)", s.DocumentID, s.ChunkIndex, s.PageNumber, s.Score)))
	}
	fmt.Println()
}

func chatLoop(ctx context.Context, session *rag.Session) {
	fmt.Println(boldGreen("Ask about your documents."))
	fmt.Println("Commands: /docs, /history, /reset, exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit":
			return
		case "/docs":
			printReports(session.Documents())
		case "/history":
			for i, turn := range session.History() {
				fmt.Printf("%s %s\n", boldYellow(fmt.Sprintf("[%d] %s", i+1, turn.AskedAt.Format("15:04:05"))), turn.Question)
				fmt.Println("    " + turn.Answer)
			}
		case "/reset":
			if err := session.Reset(ctx); err != nil {
				fmt.Printf("%s %v\n", boldRed("Reset failed:"), err)
				continue
			}
			fmt.Println(boldYellow("Vector store cleared"))
		default:
			ask(ctx, session, input)
		}
	}
}
