package app

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultConfig = `# Publishing Gateway

################################## LOGGING ####################################

[logging]

#
# Logging verbosity level.
# Supported values: "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "PANIC".
#
level = "INFO"

#
# Log format: "text" or "json".
#
format = "text"

################################## HTTP #######################################

[http]

#
# Address of the API server.
#
addr = ":8080"

#
# Address of the operations server: /health, /metrics and /debug/pprof.
#
ops_addr = ":6060"

#
# Directory where uploads are written while they are processed.
#
scratch_dir = "/tmp/publishing-gateway"

#
# Largest archive accepted, in bytes.
#
max_upload_size = 104857600

#
# Origins allowed to make cross-origin requests. Any origin when empty.
#
cors_allowed_origins = []

################################## WORKFLOW ###################################

[workflow]

#
# Base URL of the workflow engine REST API, e.g.
# "https://airflow.example.org/api/v1".
#
base_url = ""
username = ""
password = ""

ingest_workflow = "Ingest_small_datasets"
delete_workflow = "Delete_dataset_dag"

#
# Number of runs listed by /events.
#
events_limit = 10

#
# Options of the delete workflow.
#
remove_records_in_solr = true
remove_records_in_es = false
delete_avro_files = true

################################## REGISTRY ###################################

[registry]

#
# Data resource web service, e.g.
# "https://collections.example.org/ws/dataResource".
#
base_url = ""

#
# Base URL of the public dataset pages, e.g. "https://collections.example.org".
#
public_url = ""

api_key = ""

################################## STORAGE ####################################

[storage]

bucket = ""
staging_prefix = "file-uploads"
permanent_prefix = "dwca-imports"

################################## VALIDATOR ##################################

[validator]

#
# Archive validation service. Structural validation is skipped when empty.
#
url = ""

################################## NOTIFICATIONS ##############################

[notifications]

#
# AWS SNS topic ARN, e.g. "arn:aws:sns:ap-southeast-2:444455556666:datasets".
#
# Publication events are not announced when empty.
#
topic_arn = ""

################################## PREVIEW ####################################

[preview]

min_latitude = -48.0
max_latitude = -5.0
min_longitude = 109.0
max_longitude = 158.0
width = 600

################################## AWS ########################################

[aws]

s3_profile = ""
s3_endpoint = ""

sns_profile = ""
sns_endpoint = ""
`

type Config struct {
	v *viper.Viper

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	HTTP struct {
		Addr               string   `mapstructure:"addr"`
		OpsAddr            string   `mapstructure:"ops_addr"`
		ScratchDir         string   `mapstructure:"scratch_dir"`
		MaxUploadSize      int64    `mapstructure:"max_upload_size"`
		CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	} `mapstructure:"http"`

	Workflow struct {
		BaseURL             string `mapstructure:"base_url"`
		Username            string `mapstructure:"username"`
		Password            string `mapstructure:"password"`
		IngestWorkflow      string `mapstructure:"ingest_workflow"`
		DeleteWorkflow      string `mapstructure:"delete_workflow"`
		EventsLimit         int    `mapstructure:"events_limit"`
		RemoveRecordsInSolr bool   `mapstructure:"remove_records_in_solr"`
		RemoveRecordsInES   bool   `mapstructure:"remove_records_in_es"`
		DeleteAvroFiles     bool   `mapstructure:"delete_avro_files"`
	} `mapstructure:"workflow"`

	Registry struct {
		BaseURL   string `mapstructure:"base_url"`
		PublicURL string `mapstructure:"public_url"`
		APIKey    string `mapstructure:"api_key"`
	} `mapstructure:"registry"`

	Storage struct {
		Bucket          string `mapstructure:"bucket"`
		StagingPrefix   string `mapstructure:"staging_prefix"`
		PermanentPrefix string `mapstructure:"permanent_prefix"`
	} `mapstructure:"storage"`

	Validator struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"validator"`

	Notifications struct {
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"notifications"`

	Preview struct {
		MinLatitude  float64 `mapstructure:"min_latitude"`
		MaxLatitude  float64 `mapstructure:"max_latitude"`
		MinLongitude float64 `mapstructure:"min_longitude"`
		MaxLongitude float64 `mapstructure:"max_longitude"`
		Width        int     `mapstructure:"width"`
	} `mapstructure:"preview"`

	AWS struct {
		S3Profile   string `mapstructure:"s3_profile"`
		S3Endpoint  string `mapstructure:"s3_endpoint"`
		SNSProfile  string `mapstructure:"sns_profile"`
		SNSEndpoint string `mapstructure:"sns_endpoint"`
	} `mapstructure:"aws"`
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var missing []string
	for _, s := range []struct {
		name, value string
	}{
		{"workflow.base_url", c.Workflow.BaseURL},
		{"registry.base_url", c.Registry.BaseURL},
		{"registry.public_url", c.Registry.PublicURL},
		{"storage.bucket", c.Storage.Bucket},
	} {
		if strings.TrimSpace(s.value) == "" {
			missing = append(missing, s.name)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing settings: %s", strings.Join(missing, ", "))
	}
	if c.Preview.MaxLatitude <= c.Preview.MinLatitude || c.Preview.MaxLongitude <= c.Preview.MinLongitude {
		return errors.New("preview bounding box is empty")
	}
	return nil
}

func (c Config) String() string {
	tmpfile, err := ioutil.TempFile("", "config.*.toml")
	if err != nil {
		return err.Error()
	}
	defer os.Remove(tmpfile.Name())
	err = c.v.WriteConfigAs(tmpfile.Name())
	if err != nil {
		return err.Error()
	}
	blob, err := ioutil.ReadAll(tmpfile)
	if err != nil {
		return err.Error()
	}
	return string(blob)
}

func loadConfig(c *Config) error {
	v := viper.New()

	v.SetEnvPrefix("PUBLISHING_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("publishing-gateway")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME/.config/")
	v.AddConfigPath("/etc/publishing-gateway/")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read our default configuration.
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		panic(err) // Not in the user path.
	}

	// Include configuration file provided by the user.
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return errors.Wrap(err, "configuration unmarshaling failed")
	}

	c.v = v

	return nil
}
