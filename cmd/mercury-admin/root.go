package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/mercury-pubsub/mercury/client"
)

// envConfig is where to reach the broker and as whom.
type envConfig struct {
	URL      string `koanf:"url" validate:"required,url"`
	Name     string `koanf:"name" validate:"required"`
	Password string `koanf:"password" validate:"required"`
}

var envKeys = map[string]string{
	"URL":      "url",
	"NAME":     "name",
	"PASSWORD": "password",
}

func loadEnv() (*envConfig, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider("", ".", func(key string) string {
		return envKeys[key]
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	var cfg envConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("URL, NAME and PASSWORD must be set: %w", err)
	}
	if u, err := url.Parse(cfg.URL); err != nil || !u.IsAbs() {
		return nil, errors.New("URL must be an absolute URL")
	}
	return &cfg, nil
}

// app carries the client built from the environment to every command.
type app struct {
	client *client.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "mercury-admin",
		Short:         "Manage a mercury broker",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEnv()
			if err != nil {
				return err
			}
			a.client, err = client.New(cfg.URL, cfg.Name, cfg.Password)
			return err
		},
	}
	root.AddCommand(a.usersCmd(), a.channelsCmd(), a.keysCmd())
	return root
}

// printJSON writes v indented to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid id", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseSchema accepts a JSON object.
func parseSchema(arg string) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(arg), &obj); err != nil {
		return nil, fmt.Errorf("schema must be a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("schema must be a JSON object")
	}
	return json.RawMessage(arg), nil
}
