// Package config loads mmalkit configuration with viper.
//
// LoadConfig looks for config.yml and .env files in the standard locations
// (cmd/<service>/, ./config/, the working directory), loads the .env file
// with godotenv, binds <SERVICE>_* environment variables to nested keys and
// unmarshals the merged result through mapstructure tags. A viper instance
// with command line flags already bound can be passed with WithViper.
//
// # Usage
//
//	var cfg Config
//	err := config.LoadConfig("picam", &cfg, config.WithViper(v))
//
// PICAM_CAMERA_WIDTH=1920 overrides camera.width from config.yml.
package config
