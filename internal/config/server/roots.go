package server

// RootsServerConfig configures where the three scan namespaces live on disk.
type RootsServerConfig struct {
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir"`
	InputDir  string `mapstructure:"input_dir"  yaml:"input_dir"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	// Categories maps a model category (checkpoints, loras, ...) to its base
	// directories. Empty means the default category set under models_dir.
	Categories map[string][]string `mapstructure:"categories" yaml:"categories"`
}

// DefaultModelCategories is the category set assumed when no explicit
// category registry is configured.
var DefaultModelCategories = []string{
	"checkpoints",
	"clip_vision",
	"controlnet",
	"diffusion_models",
	"embeddings",
	"loras",
	"text_encoders",
	"upscale_models",
	"vae",
}
