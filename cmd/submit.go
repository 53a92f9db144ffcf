package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/crawler"
)

func newSubmitCmd() *cobra.Command {
	var byPath bool
	cmd := &cobra.Command{
		Use:   "submit <spec-file|json>",
		Short: "Publish a crawl task to the task queue",
		Long: `Validates a crawl specification and publishes it as a persistent task.
The argument is either a JSON document or a path to one. By default the file
content is sent inline; --by-path sends the path itself for workers that share
the filesystem.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			body, name, err := taskBody(args[0], byPath, appInstance.Config().Crawl.OutputRoot, appInstance.Config().Crawl.LogRoot)
			if err != nil {
				return err
			}
			if err := appInstance.Submit(cmd.Context(), body); err != nil {
				return err
			}
			appInstance.Logger().Info("task submitted",
				zap.String("crawl", name),
				zap.String("queue", appInstance.Config().Broker.TaskQueue),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&byPath, "by-path", false, "send the specification path instead of its content")
	return cmd
}

// taskBody validates arg and returns the message body to publish. Inline
// bodies are re-serialized compactly without the worker-side defaults.
func taskBody(arg string, byPath bool, outputRoot, logRoot string) ([]byte, string, error) {
	arg = strings.TrimSpace(arg)
	spec, err := crawler.ResolveSpecification([]byte(arg))
	if err != nil {
		return nil, "", err
	}
	if err := spec.WithDefaults(outputRoot, logRoot).Validate(); err != nil {
		return nil, "", err
	}
	if byPath {
		if strings.HasPrefix(arg, "{") {
			return nil, "", fmt.Errorf("--by-path needs a file argument")
		}
		if _, err := os.Stat(arg); err != nil {
			return nil, "", fmt.Errorf("stat %s: %w", arg, err)
		}
		return []byte(arg), spec.Name, nil
	}
	body, err := spec.Serialize(false)
	if err != nil {
		return nil, "", err
	}
	return body, spec.Name, nil
}
