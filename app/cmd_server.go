package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"

	"github.com/biodiversity-data/publishing-gateway/api"
	"github.com/biodiversity-data/publishing-gateway/dwca"
	"github.com/biodiversity-data/publishing-gateway/gateway"
	"github.com/biodiversity-data/publishing-gateway/notify"
	"github.com/biodiversity-data/publishing-gateway/preview"
	"github.com/biodiversity-data/publishing-gateway/registry"
	"github.com/biodiversity-data/publishing-gateway/s3"
	"github.com/biodiversity-data/publishing-gateway/validator"
	"github.com/biodiversity-data/publishing-gateway/version"
	"github.com/biodiversity-data/publishing-gateway/workflow"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func NewCmdServer(logger logrus.FieldLogger, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(); err != nil {
				return err
			}
			logger.WithField("v", version.VERSION).Info("Starting server...")
			return doServer(logger, config)
		},
	}
}

func doServer(logger logrus.FieldLogger, config *Config) error {
	var g run.Group
	{
		handler, err := server(logger, config)
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", config.HTTP.Addr)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("API server listening")

		srv := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			if err := srv.Serve(ln); err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	{
		ln, err := net.Listen("tcp", config.HTTP.OpsAddr)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("Operations server listening")

		g.Add(func() error {
			mux := http.NewServeMux()

			// Health check.
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprintln(w, "OK")
			})

			// Prometheus metrics.
			mux.Handle("/metrics", promhttp.Handler())

			// Profiling data.
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			mux.Handle("/debug/pprof/block", pprof.Handler("block"))
			mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
			mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
			mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

			return http.Serve(ln, mux)
		}, func(error) {
			ln.Close()
		})
	}
	{
		cancel := make(chan struct{})

		g.Add(func() error {
			err := interrupt(cancel)
			logger.Warn("Shutting down...")
			return err
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

func server(logger logrus.FieldLogger, config *Config) (http.Handler, error) {
	userAgent := version.AppVersion()

	operations := gateway.NewOperationsCounter()
	prometheus.MustRegister(operations)

	var storage s3.ObjectStorage
	{
		sess, err := awsSession(logger, config.AWS.S3Profile, config.AWS.S3Endpoint)
		if err != nil {
			return nil, err
		}
		storage = s3.New(sess, config.Storage.Bucket)
	}

	var notifier *notify.Notifier
	{
		logger := logger.WithField("component", "notify")
		if config.Notifications.TopicARN == "" {
			notifier = notify.New(logger, nil, "")
		} else {
			sess, err := awsSession(logger, config.AWS.SNSProfile, config.AWS.SNSEndpoint)
			if err != nil {
				return nil, err
			}
			notifier = notify.New(logger, sns.New(sess), config.Notifications.TopicARN)
		}
	}

	reg, err := registry.New(config.Registry.BaseURL, config.Registry.APIKey, userAgent)
	if err != nil {
		return nil, err
	}

	wf, err := workflow.New(config.Workflow.BaseURL, config.Workflow.Username, config.Workflow.Password, userAgent)
	if err != nil {
		return nil, err
	}

	var v validator.Validator = &validator.NoOpValidator{}
	if config.Validator.URL != "" {
		v, err = validator.NewHTTPValidator(logger.WithField("component", "validator"), config.Validator.URL, userAgent)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("Validation service not configured, structural validation is disabled")
	}

	renderer := preview.NewRenderer(preview.BoundingBox{
		MinLatitude:  config.Preview.MinLatitude,
		MaxLatitude:  config.Preview.MaxLatitude,
		MinLongitude: config.Preview.MinLongitude,
		MaxLongitude: config.Preview.MaxLongitude,
	}, config.Preview.Width)

	gwConfig := gateway.Config{
		IngestWorkflow:      config.Workflow.IngestWorkflow,
		DeleteWorkflow:      config.Workflow.DeleteWorkflow,
		StagingPrefix:       config.Storage.StagingPrefix,
		PermanentPrefix:     config.Storage.PermanentPrefix,
		RegistryPublicURL:   config.Registry.PublicURL,
		EventsLimit:         config.Workflow.EventsLimit,
		RemoveRecordsInSolr: config.Workflow.RemoveRecordsInSolr,
		RemoveRecordsInES:   config.Workflow.RemoveRecordsInES,
		DeleteAvroFiles:     config.Workflow.DeleteAvroFiles,
	}
	gw := gateway.New(logger.WithField("component", "gateway"), gwConfig, gateway.Dependencies{
		Intake:     dwca.NewIntake(afero.NewOsFs(), config.HTTP.ScratchDir, logger.WithField("component", "intake")),
		Validator:  v,
		Storage:    storage,
		Registry:   reg,
		Workflows:  wf,
		Notifier:   notifier,
		Previewer:  renderer,
		Operations: operations,
	})

	return api.New(logger.WithField("component", "api"), gw, api.Config{
		MaxUploadSize:  config.HTTP.MaxUploadSize,
		AllowedOrigins: config.HTTP.CORSAllowedOrigins,
	}), nil
}

type logrusProxy struct {
	logger logrus.FieldLogger
}

func (l logrusProxy) Log(args ...interface{}) {
	l.logger.WithField("client", "aws").Debug(args...)
}

// awsSession returns a session using NewSessionWithOptions meaning that it
// relies on the SDK defaults but also the user config files and environment.
//
// AWS_S3_FORCE_PATH_STYLE is a made-up environment string that the SDK does
// not look up. It is needed by S3-compatible stores like MinIO.
func awsSession(logger logrus.FieldLogger, profile, endpoint string) (*session.Session, error) {
	options := session.Options{}
	if profile != "" {
		options.Profile = profile
	}
	if endpoint != "" {
		options.Config.WithEndpoint(endpoint)
	}
	if res, ok := os.LookupEnv("AWS_S3_FORCE_PATH_STYLE"); ok {
		enabled, _ := strconv.ParseBool(res)
		options.Config.WithS3ForcePathStyle(enabled)
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		options.Config.WithCredentialsChainVerboseErrors(true)
	}
	options.Config.WithLogger(logrusProxy{logger: logger})
	return session.NewSessionWithOptions(options)
}
