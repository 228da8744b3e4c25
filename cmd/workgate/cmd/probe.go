package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/psantana5/workgate/internal/report"
	"github.com/psantana5/workgate/pkg/client"
	"github.com/psantana5/workgate/pkg/tlsutil"
	"github.com/spf13/cobra"
)

var (
	probeURL         string
	probeConcurrency int
	probeUnit        time.Duration
	probeTolerance   time.Duration
	probeOutput      string
	probeAPIKey      string
	probeCA          string
	probeClientCert  string
	probeClientKey   string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Fire concurrent /test calls and check they were serialized",
	Long: `Sends N simultaneous GET /test requests to a running server. Ranked by
elapsed time, the k-th reply should report about k units of work: every
caller waits for everyone served before it.

Exits non-zero if the replies do not line up.`,
	Example: `  workgate probe -n 3
  workgate probe --url https://localhost:8000 --ca certs/workgate.crt -o json`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	f := probeCmd.Flags()
	f.StringVar(&probeURL, "url", "http://localhost:8000", "server base URL")
	f.IntVarP(&probeConcurrency, "concurrency", "n", 3, "number of simultaneous calls")
	f.DurationVar(&probeUnit, "unit", 0, "expected unit duration (0 = infer from the fastest reply)")
	f.DurationVar(&probeTolerance, "tolerance", 250*time.Millisecond, "allowed deviation per call")
	f.StringVarP(&probeOutput, "output", "o", "table", "output format: table, json, yaml")
	f.StringVar(&probeAPIKey, "api-key", os.Getenv("WORKGATE_AUTH_API_KEY"), "bearer token")
	f.StringVar(&probeCA, "ca", "", "CA certificate to trust for HTTPS")
	f.StringVar(&probeClientCert, "client-cert", "", "client certificate for mTLS")
	f.StringVar(&probeClientKey, "client-key", "", "client key for mTLS")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if probeConcurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	opts := []client.Option{client.WithAPIKey(probeAPIKey)}
	if probeCA != "" || probeClientCert != "" {
		tlsConfig, err := tlsutil.LoadClientConfig(probeClientCert, probeClientKey, probeCA)
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts = append(opts, client.WithTLSConfig(tlsConfig))
	}
	c := client.NewClient(probeURL, opts...)

	calls, wall := fire(cmd.Context(), c, probeConcurrency)

	r := report.Build(probeURL, calls, wall, probeUnit, probeTolerance)
	if err := r.Write(cmd.OutOrStdout(), probeOutput); err != nil {
		return err
	}
	if !r.Serialized {
		return fmt.Errorf("calls were not serialized")
	}
	return nil
}

// fire releases n calls at once and collects their results
func fire(ctx context.Context, c *client.Client, n int) ([]report.Call, time.Duration) {
	calls := make([]report.Call, n)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := c.Test(ctx)
			if err != nil {
				calls[i] = report.Call{Error: err.Error()}
				return
			}
			calls[i] = report.Call{Elapsed: res.Elapsed}
		}(i)
	}

	began := time.Now()
	close(start)
	wg.Wait()
	return calls, time.Since(began)
}
