// faqctl is the offline companion tool: it seeds the knowledge base,
// exports ranking datasets, and trains and evaluates the learned ranking
// model.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/abenov/faq/internal/auth"
	"github.com/abenov/faq/internal/config"
	"github.com/abenov/faq/internal/embedder"
	"github.com/abenov/faq/internal/knowledge"
	"github.com/abenov/faq/internal/lang"
	"github.com/abenov/faq/internal/ltr"
	"github.com/abenov/faq/internal/search"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	app := &cli.App{
		Name:  "faqctl",
		Usage: "manage the FAQ knowledge base and ranking model",
		Commands: []*cli.Command{
			seedCommand(),
			datasetCommand(),
			trainCommand(),
			evalCommand(),
			tokenCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// seedCommand ingests question/answer pairs from a CSV with columns
// lang,question,answer[,answer_clean]. Identities are content hashes, so
// reruns update in place instead of duplicating.
func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "load question/answer pairs into the knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "CSV file with lang,question,answer[,answer_clean]", Required: true},
			&cli.BoolFlag{Name: "qdrant", Usage: "also index entries into Qdrant"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			pool, err := knowledge.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()
			store := knowledge.NewPostgresStore(pool)

			emb := newEmbedder(cfg)

			var qIndex *search.QdrantIndex
			if c.Bool("qdrant") {
				qIndex, err = search.NewQdrantIndex(cfg.QdrantGRPCURL)
				if err != nil {
					return fmt.Errorf("connecting to Qdrant: %w", err)
				}
				defer qIndex.Close()
				if err := qIndex.EnsureCollection(ctx, emb.Dimension()); err != nil {
					return err
				}
			}

			f, err := os.Open(c.String("file"))
			if err != nil {
				return fmt.Errorf("opening seed file: %w", err)
			}
			defer f.Close()

			n, err := seed(ctx, f, store, emb, qIndex)
			if err != nil {
				return err
			}
			slog.Info("seeding done", "entries", n)
			return nil
		},
	}
}

// seed reads CSV rows and writes answers plus embedded search entries.
func seed(ctx context.Context, r io.Reader, store knowledge.Store, emb embedder.Embedder, qIndex *search.QdrantIndex) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	count := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading seed row: %w", err)
		}
		if len(rec) < 3 {
			return count, fmt.Errorf("seed row %d has %d fields, want at least 3", count+1, len(rec))
		}
		language, question, answerText := lang.Language(rec[0]), rec[1], rec[2]
		clean := ""
		if len(rec) > 3 {
			clean = rec[3]
		}

		answerID := knowledge.AnswerID(language, answerText)
		if err := store.UpsertAnswer(ctx, knowledge.Answer{
			ID:        answerID,
			Lang:      language,
			Text:      answerText,
			CleanText: clean,
		}); err != nil {
			return count, fmt.Errorf("upserting answer: %w", err)
		}

		vec, err := emb.Embed(ctx, question)
		if err != nil {
			return count, fmt.Errorf("embedding %q: %w", question, err)
		}
		entryID := knowledge.SearchEntryID(answerID, question)
		if err := store.UpsertSearchEntry(ctx, knowledge.SearchEntry{
			ID:         entryID,
			AnswerID:   answerID,
			Lang:       language,
			SearchText: question,
			Weight:     1,
			Embedding:  vec,
		}); err != nil {
			return count, fmt.Errorf("upserting search entry: %w", err)
		}

		if qIndex != nil {
			// Qdrant point ids must be UUIDs; derive one from the entry hash.
			pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(entryID)).String()
			if err := qIndex.Upsert(ctx, pointID, answerID, question, vec); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

// datasetCommand exports feature rows for labeled queries. The labels file
// is a CSV with columns query,gold_answer_id.
func datasetCommand() *cli.Command {
	return &cli.Command{
		Name:  "dataset",
		Usage: "export ranking features for labeled queries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "queries", Usage: "CSV file with query,gold_answer_id", Required: true},
			&cli.StringFlag{Name: "out", Usage: "output dataset CSV", Required: true},
			&cli.BoolFlag{Name: "resume", Usage: "skip queries already present in the output file"},
			&cli.IntFlag{Name: "workers", Value: 4},
			&cli.IntFlag{Name: "topk", Value: 20},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			pool, err := knowledge.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			pairs, err := readQueryGold(c.String("queries"))
			if err != nil {
				return err
			}

			outPath := c.String("out")
			done := map[string]struct{}{}
			writeHeader := true
			if c.Bool("resume") {
				if existing, err := os.Open(outPath); err == nil {
					done, err = ltr.ProcessedGroups(existing)
					existing.Close()
					if err != nil {
						return fmt.Errorf("reading existing dataset: %w", err)
					}
					writeHeader = false
				}
			}

			flags := os.O_CREATE | os.O_WRONLY
			if writeHeader {
				flags |= os.O_TRUNC
			} else {
				flags |= os.O_APPEND
			}
			out, err := os.OpenFile(outPath, flags, 0o644)
			if err != nil {
				return fmt.Errorf("opening output file: %w", err)
			}
			defer out.Close()

			builder := ltr.NewDatasetBuilder(
				search.NewPostgresIndex(pool),
				newEmbedder(cfg),
				ltr.WithTopK(c.Int("topk")),
				ltr.WithWorkers(c.Int("workers")),
			)
			if err := builder.Build(ctx, pairs, out, done, writeHeader); err != nil {
				return err
			}
			slog.Info("dataset export done", "queries", len(pairs), "skipped", len(done))
			return nil
		},
	}
}

func trainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "train the ranking model on an exported dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset", Required: true},
			&cli.StringFlag{Name: "out", Value: "rank_model.json"},
			&cli.IntFlag{Name: "epochs", Value: 2000},
			&cli.Float64Flag{Name: "lr", Value: 0.1},
			&cli.Float64Flag{Name: "test-fraction", Value: 0.2},
			&cli.Int64Flag{Name: "seed", Value: 42},
		},
		Action: func(c *cli.Context) error {
			examples, err := readDataset(c.String("dataset"))
			if err != nil {
				return err
			}

			opts := ltr.DefaultTrainOptions()
			opts.Epochs = c.Int("epochs")
			opts.LearningRate = c.Float64("lr")
			opts.TestFraction = c.Float64("test-fraction")
			opts.Seed = c.Int64("seed")

			model, report, err := ltr.Train(examples, opts)
			if err != nil {
				return fmt.Errorf("training: %w", err)
			}
			if err := model.Save(c.String("out")); err != nil {
				return err
			}
			slog.Info("training done",
				"train_examples", report.TrainExamples,
				"test_examples", report.TestExamples,
				"test_groups", report.TestGroups,
				"auc", report.AUC,
				"model", c.String("out"),
			)
			return nil
		},
	}
}

func evalCommand() *cli.Command {
	return &cli.Command{
		Name:  "eval",
		Usage: "evaluate a trained model against a dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset", Required: true},
			&cli.StringFlag{Name: "model", Value: "rank_model.json"},
		},
		Action: func(c *cli.Context) error {
			examples, err := readDataset(c.String("dataset"))
			if err != nil {
				return err
			}
			model, err := ltr.Load(c.String("model"))
			if err != nil {
				return err
			}

			labels := make([]int, len(examples))
			scores := make([]float64, len(examples))
			for i, ex := range examples {
				labels[i] = ex.Label
				scores[i] = model.Predict(ex.Features)
			}
			slog.Info("evaluation done", "examples", len(examples), "auc", ltr.AUC(labels, scores))
			return nil
		},
	}
}

// tokenCommand mints an admin JWT for the model reload endpoint. It reads
// only the signing secret, so it works without a full service config.
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint an admin token for the reload endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Usage: "JWT signing secret", EnvVars: []string{"JWT_SECRET"}, Required: true},
			&cli.StringFlag{Name: "subject", Value: "admin"},
			&cli.StringFlag{Name: "role", Value: "admin"},
			&cli.DurationFlag{Name: "expiry", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			jwtCfg := auth.DefaultJWTConfig(c.String("secret"))
			jwtCfg.Expiry = c.Duration("expiry")
			token, err := auth.NewJWTManager(jwtCfg).GenerateToken(c.String("subject"), c.String("role"))
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func newEmbedder(cfg *config.Config) embedder.Embedder {
	if cfg.LLMProvider == "ollama" {
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		})
	}
	return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.EmbeddingModel,
	})
}

func readQueryGold(path string) ([]ltr.QueryGold, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening queries file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	var pairs []ltr.QueryGold
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading queries row: %w", err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("queries row has %d fields, want 2", len(rec))
		}
		pairs = append(pairs, ltr.QueryGold{Query: rec[0], GoldAnswerID: rec[1]})
	}
	return pairs, nil
}

func readDataset(path string) ([]ltr.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()
	return ltr.ReadExamples(f)
}
