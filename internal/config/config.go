package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml strings like "10s" and "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Importer struct {
	Workers int `yaml:"workers"`

	// BatchSize of 0 sizes batches from the counted total.
	BatchSize int `yaml:"batch_size"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type S3 struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type Source struct {
	S3 S3 `yaml:"s3"`
}

type Webhooks struct {
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
}

type Kafka struct {
	// URI is kafka://broker:port/topic; empty disables the sink.
	URI string `yaml:"uri"`
}

type Events struct {
	Kafka Kafka `yaml:"kafka"`
}

type Stockroom struct {
	Global   Global   `yaml:"global"`
	Server   Server   `yaml:"server"`
	Importer Importer `yaml:"importer"`
	Storage  Storage  `yaml:"storage"`
	Source   Source   `yaml:"source"`
	Webhooks Webhooks `yaml:"webhooks"`
	Events   Events   `yaml:"events"`
}

func NewStockroomFromFile(fpath string) (*Stockroom, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var stockroom Stockroom
	if err := yaml.Unmarshal(bs, &stockroom); err != nil {
		return nil, err
	}

	return &stockroom, nil
}
