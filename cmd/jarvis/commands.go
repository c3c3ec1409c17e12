package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"jarvis/internal/app"
	"jarvis/internal/assistant"
	"jarvis/internal/config"
	"jarvis/internal/providers"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jarvis",
		Short:         "Asistente conversacional con enrutado de proveedores de IA",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newConfigureCmd(),
		newRevokeCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newRotateCmd(),
	)
	return root
}

// build loads config, points the global logger at logOut and wires the
// container. The caller owns Close.
func build(ctx context.Context, actor string, browser assistant.Browser, logOut io.Writer) (*app.Container, error) {
	return buildWith(ctx, logOut, app.Options{Actor: actor, Browser: browser})
}

func buildWith(ctx context.Context, logOut io.Writer, opts app.Options) (*app.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level, logOut)
	opts.Logger = log.Logger
	return app.Build(ctx, cfg, opts)
}

func newChatCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Conversación interactiva en la terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			explicit, err := parseProviderFlag(provider)
			if err != nil {
				return err
			}
			c, err := buildWith(cmd.Context(), os.Stderr, app.Options{
				Actor:         "cli",
				Browser:       assistant.SystemBrowser{},
				ChatConfigure: true,
			})
			if err != nil {
				return err
			}
			defer c.Close()
			return runREPL(cmd.Context(), c.Assistant, explicit, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "proveedor fijo (openai, gemini, huggingface)")
	return cmd
}

type answerer interface {
	Answer(ctx context.Context, utterance string, explicit providers.Name) string
	Status() assistant.Status
}

func runREPL(ctx context.Context, a answerer, explicit providers.Name, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Jarvis listo. %s. Escribe 'salir' para terminar.\n", a.Status().Summary())
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "salir") {
			return nil
		}
		if line == "" {
			continue
		}
		fmt.Fprintln(out, a.Answer(ctx, line, explicit))
		if ctx.Err() != nil {
			return nil
		}
	}
}

func parseProviderFlag(v string) (providers.Name, error) {
	if strings.TrimSpace(v) == "" {
		return "", nil
	}
	return providers.ParseName(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "API HTTP, worker y bot de Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build(cmd.Context(), "http", assistant.NoopBrowser{}, os.Stdout)
			if err != nil {
				return err
			}
			defer c.Close()
			return serve(cmd.Context(), c)
		},
	}
}

func newConfigureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure <provider> <secret>",
		Short: "Guarda la clave de un proveedor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := providers.ParseName(args[0])
			if err != nil {
				return err
			}
			c, err := build(cmd.Context(), "cli", nil, os.Stderr)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Assistant.Configure(cmd.Context(), name, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Clave de %s guardada. %s\n", name.DisplayName(), c.Assistant.Status().Summary())
			return nil
		},
	}
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <provider>",
		Short: "Elimina la clave de un proveedor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := providers.ParseName(args[0])
			if err != nil {
				return err
			}
			c, err := build(cmd.Context(), "cli", nil, os.Stderr)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Assistant.Revoke(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Clave de %s eliminada. %s\n", name.DisplayName(), c.Assistant.Status().Summary())
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Proveedor activo y capacidades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build(cmd.Context(), "cli", nil, os.Stderr)
			if err != nil {
				return err
			}
			defer c.Close()
			st := c.Assistant.Status()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintln(out, st.Summary())
			fmt.Fprintf(out, "proveedor:     %s\n", st.Provider)
			fmt.Fprintf(out, "configurado:   %t\n", st.Configured)
			fmt.Fprintf(out, "voz (entrada): %t\n", st.SpeechInput)
			fmt.Fprintf(out, "voz (salida):  %t\n", st.SpeechOutput)
			for _, name := range providers.Priority {
				fmt.Fprintf(out, "  %-12s clave=%t\n", name, c.Credentials.Has(name))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "salida en JSON")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		audit bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Turnos registrados en el diario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build(cmd.Context(), "cli", nil, os.Stderr)
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()
			if c.Store == nil {
				fmt.Fprintln(out, "Sin base de datos configurada (DB_DSN); no hay diario de turnos.")
				return nil
			}
			if audit {
				actions, err := c.Store.RecentActions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, a := range actions {
					fmt.Fprintf(out, "%s  %-8s %-18s %-12s %s\n", a.CreatedAt.Format(time.DateTime), a.Actor, a.Action, a.Provider, a.MetaJSON)
				}
				return nil
			}
			turns, err := c.Store.RecentTurns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, t := range turns {
				fmt.Fprintf(out, "[%s] (%s)\n> %s\n%s\n\n", t.CreatedAt.Format(time.DateTime), t.Provider, t.Prompt, t.Response)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "número de entradas")
	cmd.Flags().BoolVar(&audit, "audit", false, "mostrar el registro de auditoría de credenciales")
	return cmd
}

func newRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Vuelve a sellar las claves con la clave maestra actual",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := build(cmd.Context(), "cli", nil, os.Stderr)
			if err != nil {
				return err
			}
			defer c.Close()
			if !c.Config.Crypto.Enabled() {
				return errors.New("no master key configured (MASTER_KEY_B64 or MASTER_KEYS_JSON)")
			}
			n, err := c.Credentials.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d claves resellada(s)\n", n)
			return nil
		},
	}
}
