package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrConfiguration marks settings that prevent the service from starting.
var ErrConfiguration = errors.New("invalid configuration")

type Elvis struct {
	URL       string
	Username  string
	Password  string
	Token     string
	TagsField string
}

type Clarifai struct {
	Enabled   bool
	APIKey    string
	TagsField string
	Rate      float64
	Models    []string
	// PathModels maps asset folder prefixes to Clarifai model ids.
	PathModels map[string][]string
}

type Google struct {
	Enabled     bool
	KeyFilename string
	TagsField   string
}

type AWS struct {
	Enabled         bool
	AccessKey       string
	SecretAccessKey string
	Region          string
	TagsField       string
}

type Gemini struct {
	Enabled   bool
	APIKey    string
	Model     string
	TagsField string
}

type Ollama struct {
	Enabled   bool
	URL       string
	Model     string
	TagsField string
}

type OpenAI struct {
	Enabled   bool
	APIKey    string
	Model     string
	TagsField string
}

type Translation struct {
	Languages      []string
	SourceLanguage string
	TagFields      []string
}

// Enabled reports whether any target language is configured.
func (t Translation) Enabled() bool {
	return len(t.Languages) > 0
}

type Config struct {
	Port          string
	TempDir       string
	BatchSize     int
	ModifiedField string

	Elvis       Elvis
	Clarifai    Clarifai
	Google      Google
	AWS         AWS
	Gemini      Gemini
	Ollama      Ollama
	OpenAI      OpenAI
	Translation Translation
}

// Load reads the configuration from the environment. A .env file, when
// present, is expected to have been loaded already.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:          getenv("IR_PORT", "9090"),
		TempDir:       getenv("IR_TEMP_DIR", "./temp"),
		BatchSize:     getInt("IR_BATCH_SIZE", 5, &errs),
		ModifiedField: getenv("IR_AI_METADATA_MODIFIED_FIELD", "cf_aiMetadataModified"),
		Elvis: Elvis{
			URL:       getenv("IR_ELVIS_URL", "http://localhost:8080"),
			Username:  getenv("IR_ELVIS_USER", "admin"),
			Password:  getenv("IR_ELVIS_PASSWORD", "changemenow"),
			Token:     os.Getenv("IR_ELVIS_TOKEN"),
			TagsField: getenv("IR_ELVIS_TAGS_FIELD", "tags"),
		},
		Clarifai: Clarifai{
			Enabled:    getBool("IR_CLARIFAI_ENABLED", false, &errs),
			APIKey:     os.Getenv("IR_CLARIFAI_API_KEY"),
			TagsField:  getenv("IR_CLARIFAI_TAGS_FIELD", "cf_tagsClarifai"),
			Rate:       getFloat("IR_CLARIFAI_RATE", 5, &errs),
			Models:     splitList(os.Getenv("IR_CLARIFAI_MODELS")),
			PathModels: parsePathModels(os.Getenv("IR_CLARIFAI_PATH_MODELS"), &errs),
		},
		Google: Google{
			Enabled:     getBool("IR_GOOGLE_ENABLED", false, &errs),
			KeyFilename: os.Getenv("IR_GOOGLE_KEY_FILENAME"),
			TagsField:   getenv("IR_GOOGLE_TAGS_FIELD", "cf_tagsGoogle"),
		},
		AWS: AWS{
			Enabled:         getBool("IR_AWS_ENABLED", false, &errs),
			AccessKey:       os.Getenv("IR_AWS_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("IR_AWS_SECRET_ACCESS_KEY"),
			Region:          getenv("IR_AWS_REGION", "eu-west-1"),
			TagsField:       getenv("IR_AWS_TAGS_FIELD", "cf_tagsAWS"),
		},
		Gemini: Gemini{
			Enabled:   getBool("IR_GEMINI_ENABLED", false, &errs),
			APIKey:    os.Getenv("GEMINI_API_KEY"),
			Model:     os.Getenv("GEMINI_MODEL"),
			TagsField: os.Getenv("IR_GEMINI_TAGS_FIELD"),
		},
		Ollama: Ollama{
			Enabled:   getBool("IR_OLLAMA_ENABLED", false, &errs),
			URL:       getenv("OLLAMA_URL", os.Getenv("OLLAMA_HOST")),
			Model:     os.Getenv("OLLAMA_MODEL"),
			TagsField: os.Getenv("IR_OLLAMA_TAGS_FIELD"),
		},
		OpenAI: OpenAI{
			Enabled:   getBool("IR_OPENAI_ENABLED", false, &errs),
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			Model:     os.Getenv("OPENAI_MODEL"),
			TagsField: os.Getenv("IR_OPENAI_TAGS_FIELD"),
		},
		Translation: Translation{
			Languages:      splitList(os.Getenv("IR_LANGUAGES")),
			SourceLanguage: getenv("IR_SOURCE_LANGUAGE", "en"),
			TagFields:      splitList(os.Getenv("IR_LANGUAGE_TAG_FIELDS")),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return cfg, nil
}

// Validate checks the settings needed to run recognitions.
func (c *Config) Validate() error {
	var errs []error

	if c.Elvis.URL == "" {
		errs = append(errs, errors.New("IR_ELVIS_URL is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("IR_BATCH_SIZE must be positive, got %d", c.BatchSize))
	}
	if !c.Clarifai.Enabled && !c.Google.Enabled && !c.AWS.Enabled &&
		!c.Gemini.Enabled && !c.Ollama.Enabled && !c.OpenAI.Enabled {
		errs = append(errs, errors.New("enable at least one recognition provider"))
	}
	if c.Clarifai.Enabled && c.Clarifai.APIKey == "" {
		errs = append(errs, errors.New("IR_CLARIFAI_API_KEY is required when Clarifai is enabled"))
	}
	if c.Google.Enabled && c.Google.KeyFilename == "" {
		errs = append(errs, errors.New("IR_GOOGLE_KEY_FILENAME is required when Google Vision is enabled"))
	}
	if c.AWS.Enabled && (c.AWS.AccessKey == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("IR_AWS_ACCESS_KEY and IR_AWS_SECRET_ACCESS_KEY must be set together"))
	}
	if c.Gemini.Enabled && c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required when Gemini is enabled"))
	}
	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required when OpenAI is enabled"))
	}

	if t := c.Translation; t.Enabled() {
		if len(t.Languages) != len(t.TagFields) {
			errs = append(errs, fmt.Errorf("the number of languages (%d) must equal the number of IR_LANGUAGE_TAG_FIELDS (%d)",
				len(t.Languages), len(t.TagFields)))
		}
		if t.SourceLanguage == "" {
			errs = append(errs, errors.New("IR_SOURCE_LANGUAGE is required when IR_LANGUAGES is set"))
		}
		if c.Google.KeyFilename == "" {
			errs = append(errs, errors.New("IR_GOOGLE_KEY_FILENAME is required for translation"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func getInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a number", key, v))
		return fallback
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePathModels parses "/Food=food-item;/Travel=travel,general" into a
// prefix to model list map.
func parsePathModels(v string, errs *[]error) map[string][]string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	rules := map[string][]string{}
	for _, rule := range strings.Split(v, ";") {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		prefix, models, ok := strings.Cut(rule, "=")
		prefix = strings.TrimSpace(prefix)
		if !ok || prefix == "" || len(splitList(models)) == 0 {
			*errs = append(*errs, fmt.Errorf("IR_CLARIFAI_PATH_MODELS: invalid rule %q", rule))
			continue
		}
		rules[prefix] = splitList(models)
	}
	return rules
}
