// Package confloader loads the bridge configuration with koanf and
// watches the configuration file for changes.
//
// Sources, lowest priority first:
//
//  1. Defaults supplied by the caller (WithDefaults)
//  2. YAML configuration file
//  3. Environment variables (KSEFBRIDGE_ prefix)
//
// Environment keys use a double underscore between sections so that
// single underscores inside key names survive:
//
//	KSEFBRIDGE_EXCHANGE__BASE_URL  -> exchange.base_url
//	KSEFBRIDGE_SYNC__INTERVAL      -> sync.interval
package confloader
