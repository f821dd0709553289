package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/sandbox"
)

var (
	buildContext    string
	buildDockerfile string
	buildTag        string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the sandbox image",
	Long: `Build the sandbox image from the configured build context. The build
is skipped when an image with the same context digest already exists.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildContext, "context", "", "build context directory (default sandbox.build_context)")
	buildCmd.Flags().StringVarP(&buildDockerfile, "file", "f", "Dockerfile", "Dockerfile path relative to the context")
	buildCmd.Flags().StringVarP(&buildTag, "tag", "t", "", "image tag (default sandbox.image)")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	factory, err := a.sandboxFactory()
	if err != nil {
		return err
	}

	spec := sandbox.BuildSpec{
		ContextDir: buildContext,
		Dockerfile: buildDockerfile,
		Tag:        buildTag,
	}
	if spec.ContextDir == "" {
		spec.ContextDir = a.cfg.Sandbox.BuildContext
	}

	if err := factory().Build(cmd.Context(), spec); err != nil {
		return err
	}
	a.log.Info("sandbox image ready", zap.String("context", spec.ContextDir))
	return nil
}
