package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/biodiversity-data/publishing-gateway/dwca"
	"github.com/biodiversity-data/publishing-gateway/licence"
	"github.com/biodiversity-data/publishing-gateway/validator"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var file string

func NewCmdValidate(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a Darwin Core archive before publishing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doValidate(out, afero.NewOsFs())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File")

	return cmd
}

func doValidate(out io.Writer, fs afero.Fs) error {
	if file == "" {
		return errors.New("parameter empty")
	}
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return errors.Wrap(err, "cannot read file")
	}

	scratch, err := afero.TempDir(fs, "", "publishing-gateway")
	if err != nil {
		return errors.Wrap(err, "cannot create scratch directory")
	}
	defer fs.RemoveAll(scratch)

	intake := dwca.NewIntake(fs, scratch, logrus.WithField("cmd", "validate"))
	return intake.Open("cli", data, func(archive *dwca.Archive) error {
		var metadata dwca.Metadata
		if archive.HasMetadata() {
			metadata = *archive.Metadata
		}
		report, err := validator.Evaluate(context.Background(), &validator.NoOpValidator{}, archive, metadata, licence.Default())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Archive %s (%s)\n", filepath.Base(file), report.DatasetType)
		if metadata.Name != "" {
			fmt.Fprintln(out, "Dataset:", metadata.Name)
		}
		if report.Valid {
			fmt.Fprintln(out, "The archive is valid!")
			return nil
		}
		fmt.Fprintln(out, "The archive is invalid!")
		for _, issue := range report.Issues {
			fmt.Fprintln(out, issue)
		}
		return nil
	})
}
