package cli

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/denismitr/heron/internal/database/sqlgateway"
	"github.com/denismitr/heron/upgrades"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	LogColor = "color"
	LogPlain = "plain"
	LogJSON  = "json"
)

var ErrDatabaseURLMissing = errors.New("database url was not defined")

type (
	Database struct {
		URL            string        `yaml:"url"`
		StepsTable     string        `yaml:"steps_table"`
		VersionsTable  string        `yaml:"versions_table"`
		ModuleColumn   string        `yaml:"module_column"`
		VersionColumn  string        `yaml:"version_column"`
		LockKey        string        `yaml:"lock_key"`
		NoLock         bool          `yaml:"no_lock"`
		BatchSize      int           `yaml:"batch_size"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		Isolation      string        `yaml:"isolation"`
	}

	Logging struct {
		Format string `yaml:"format"`
		SQL    bool   `yaml:"sql"`
		Debug  bool   `yaml:"debug"`
	}

	Metrics struct {
		Textfile string `yaml:"textfile"`
	}

	Config struct {
		Version  string          `yaml:"version"`
		Database Database        `yaml:"database"`
		Logging  Logging         `yaml:"logging"`
		Metrics  Metrics         `yaml:"metrics"`
		Upgrades upgrades.Config `yaml:"upgrades"`
		// StepsFolder holds site specific steps written as sql files
		StepsFolder string `yaml:"steps_folder"`
	}
)

// LoadConfig reads a yaml configuration file. Values wrapped in %% are
// taken from the environment, so %%HERON_DATABASE_URL%% reads that variable.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not open heron configuration file")
	}

	defer func() {
		_ = f.Close()
	}()

	b, err := ioutil.ReadAll(f)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read heron configuration file")
	}

	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return cfg, errors.Wrap(err, "could not parse heron configuration file")
	}

	cfg.Database.URL = fromEnv(cfg.Database.URL)
	cfg.Metrics.Textfile = fromEnv(cfg.Metrics.Textfile)
	cfg.Upgrades.StateSeeds = fromEnv(cfg.Upgrades.StateSeeds)
	cfg.StepsFolder = fromEnv(cfg.StepsFolder)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Database.URL == "" {
		return ErrDatabaseURLMissing
	}

	if _, err := sqlgateway.ParseISO(cfg.Database.Isolation); err != nil {
		return err
	}

	switch cfg.Logging.Format {
	case "":
		cfg.Logging.Format = LogColor
	case LogColor, LogPlain, LogJSON:
	default:
		return errors.Errorf("unknown logging format [%s]", cfg.Logging.Format)
	}

	if cfg.Upgrades.BatchSize == 0 {
		cfg.Upgrades.BatchSize = cfg.Database.BatchSize
	}

	return nil
}

func fromEnv(v string) string {
	if len(v) > 4 && strings.HasPrefix(v, "%%") && strings.HasSuffix(v, "%%") {
		return os.Getenv(strings.Trim(v, "%"))
	}

	return v
}

const configFileStub = `version: "1"
database:
  url: "%%HERON_DATABASE_URL%%"
  # host owned versions table, leave empty to let heron keep its own
  versions_table: ir_module_module
  module_column: name
  version_column: latest_version
  batch_size: 1000
  # isolation of step transactions, empty for the engine default
  isolation: ""
logging:
  format: color
  sql: false
  debug: false
metrics:
  textfile: ""
steps_folder: ""
upgrades:
  state_seeds: ""
  renamed_modules: []
  merged_modules: []
  binary_fields: []
  tax_tags:
    enabled: false
    excluded_companies: []
    lang: en_GB
`
