package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agegate/internal/birthdate"
	"agegate/internal/imagequality"
	"agegate/internal/platform/config"
	"agegate/internal/verification/adapters/ocr"
	"agegate/pkg/platform/middleware/auth"
)

const dateLayout = "2006-01-02"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agegatectl",
		Short:         "Operator tools for ID age verification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newAnalyzeCmd(),
		newExtractCmd(),
		newAgeCmd(),
		newTokenCmd(),
		newMetricsCmd(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// analyze
// =============================================================================

func newAnalyzeCmd() *cobra.Command {
	var (
		threshold float64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Score the sharpness of ID photos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analyzer := imagequality.NewAnalyzer(imagequality.WithThreshold(threshold))
			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				report, err := analyzer.Analyze(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if asJSON {
					if err := writeJSON(out, struct {
						File string `json:"file"`
						imagequality.Report
					}{path, report}); err != nil {
						return err
					}
					continue
				}
				verdict := "acceptable"
				if !report.Acceptable {
					verdict = "too blurry"
				}
				fmt.Fprintf(out, "%s: %s %dx%d score=%.2f threshold=%.2f %s\n",
					path, report.Format, report.Width, report.Height, report.Score, analyzer.Threshold(), verdict)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", imagequality.DefaultThreshold, "minimum Laplacian variance")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

// =============================================================================
// extract
// =============================================================================

func newExtractCmd() *cobra.Command {
	var (
		file   string
		image  string
		ocrURL string
		today  string
	)
	cmd := &cobra.Command{
		Use:   "extract [TEXT]",
		Short: "Find the birthdate in OCR text",
		Long: "Find the birthdate in OCR text given as an argument, read from --file, " +
			"or recognised from an --image by the OCR service at --ocr-url.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseToday(today)
			if err != nil {
				return err
			}
			text, err := extractInput(cmd.Context(), args, file, image, ocrURL)
			if err != nil {
				return err
			}
			match, ok := birthdate.Parse(text, now)
			if !ok {
				return errors.New("no valid birthdate found")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, matched %q) age %d\n",
				match.Date.Format(dateLayout), match.Layout, match.Raw, birthdate.Age(match.Date, now))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read OCR text from a file")
	cmd.Flags().StringVar(&image, "image", "", "recognise text from an ID photo")
	cmd.Flags().StringVar(&ocrURL, "ocr-url", os.Getenv("OCR_URL"), "OCR service endpoint")
	cmd.Flags().StringVar(&today, "today", "", "evaluate as of this date (YYYY-MM-DD)")
	cmd.MarkFlagsMutuallyExclusive("file", "image")
	return cmd
}

func extractInput(ctx context.Context, args []string, file, image, ocrURL string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	case image != "":
		data, err := os.ReadFile(image)
		if err != nil {
			return "", err
		}
		client, err := ocr.New(ocrURL, ocr.WithAPIKey(os.Getenv("OCR_API_KEY")))
		if err != nil {
			return "", err
		}
		return client.ExtractText(ctx, data)
	}
	return "", errors.New("provide TEXT, --file or --image")
}

func parseToday(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --today: %w", err)
	}
	return t, nil
}

// =============================================================================
// age
// =============================================================================

func newAgeCmd() *cobra.Command {
	var (
		today      string
		minimumAge int
	)
	cmd := &cobra.Command{
		Use:   "age BIRTHDATE",
		Short: "Compute an age and the eligibility decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseToday(today)
			if err != nil {
				return err
			}
			born, err := time.Parse(dateLayout, args[0])
			if err != nil {
				return fmt.Errorf("invalid birthdate: %w", err)
			}
			if born.After(now) {
				return errors.New("birthdate is in the future")
			}
			age := birthdate.Age(born, now)
			decision := "APPROVED"
			if age < minimumAge {
				decision = "REJECTED"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "age %d (minimum %d): %s\n", age, minimumAge, decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "evaluate as of this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&minimumAge, "min-age", 60, "minimum age for approval")
	return cmd
}

// =============================================================================
// token
// =============================================================================

func newTokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin and token endpoints",
		Long:  "Mint a bearer token signed with JWT_SIGNING_KEY. Issuer and audience follow the server configuration.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			signer, err := auth.NewHMACValidator([]byte(cfg.Server.JWTSigningKey), cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
			if err != nil {
				return err
			}
			token, err := signer.Sign(subject, roles, time.Now(), ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator or service name")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"admin"}, "roles to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// =============================================================================
// metrics
// =============================================================================

func newMetricsCmd() *cobra.Command {
	var (
		addr  string
		token string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print or reset the verification counters of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("--token or AGEGATE_TOKEN is required")
			}
			method, path := http.MethodGet, "/admin/verification/metrics"
			if reset {
				method, path = http.MethodPost, "/admin/verification/metrics/reset"
			}
			req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(addr, "/")+path, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case reset && resp.StatusCode == http.StatusNoContent:
				fmt.Fprintln(cmd.OutOrStdout(), "counters reset")
				return nil
			case resp.StatusCode != http.StatusOK:
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			var out struct {
				Summary string `json:"summary"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode metrics: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), out.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("AGEGATE_TOKEN"), "admin bearer token")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the counters instead of printing them")
	return cmd
}
