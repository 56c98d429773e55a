package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	dbadapter "github.com/thc1967/codex-quest-manager-sub000/db"
	"github.com/thc1967/codex-quest-manager-sub000/docstore"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"github.com/thc1967/codex-quest-manager-sub000/quest"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the quest document as JSON or YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("unknown format %q (json or yaml)", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withManager(cfg, quest.RepairFail, func(m *quest.Manager) error {
				all, _, err := m.GetAllQuests(cmd.Context())
				if err != nil {
					return err
				}
				meta, err := m.Metadata(cmd.Context())
				if err != nil {
					return err
				}
				data, err := encodeDocument(&quest.Document{Quests: all, Metadata: meta}, format)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().String("format", formatJSON, "output format: json or yaml")
	cmd.Flags().String("out", "", "output file (default stdout)")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load quests from a JSON or YAML export",
		Long:  "Load quests from a file written by export. Quests are upserted by id; --replace discards the current document first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replace, _ := cmd.Flags().GetBool("replace")
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			imported, err := decodeExport(data, formatOf(args[0]))
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withManager(cfg, quest.RepairPolicy(cfg.Quest.RepairPolicy), func(m *quest.Manager) error {
				err := m.ExecuteUpdateFn(cmd.Context(), "Import quests", func(doc *quest.Document) error {
					if replace {
						doc.Quests = make(map[string]*quest.Quest, len(imported.Quests))
						if imported.Metadata.CampaignName != "" {
							doc.Metadata.CampaignName = imported.Metadata.CampaignName
						}
					}
					for id, q := range imported.Quests {
						if q != nil {
							doc.Quests[id] = q
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d quests\n", len(imported.Quests))
				return nil
			})
		},
	}
	cmd.Flags().Bool("replace", false, "discard existing quests before importing")
	return cmd
}

// withManager opens the configured database and runs fn with a manager
// acting as the system director.
func withManager(cfg *config.Config, policy quest.RepairPolicy, fn func(m *quest.Manager) error) error {
	db, err := dbadapter.Open(cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer closeDB(db)
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	store := docstore.NewGormStore(db, cfg.Quest.DocumentPath, nil, zap.NewNop())
	m := quest.NewManager(store, zap.NewNop(),
		quest.WithCampaignName(cfg.Quest.CampaignName),
		quest.WithRepairPolicy(policy),
	).ForUser(systemUser)
	return fn(m)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// encodeDocument renders doc. YAML goes through the JSON form so the
// field names match.
func encodeDocument(doc *quest.Document, format string) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	if format == formatJSON {
		return append(data, '\n'), nil
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeExport parses a file written by encodeDocument.
func decodeExport(data []byte, format string) (*quest.Document, error) {
	if format == formatYAML {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		var err error
		if data, err = json.Marshal(generic); err != nil {
			return nil, err
		}
	}
	var doc quest.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Quests == nil {
		return nil, fmt.Errorf("no quests mapping")
	}
	return &doc, nil
}

// formatOf guesses the format from a file extension.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

