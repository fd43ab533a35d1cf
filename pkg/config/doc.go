// Package config resolves the installer settings.
//
// Settings come from three layers applied in order: built-in defaults
// relative to the executable folder, an optional installer.yaml file, and
// FROYO_INSTALLER_* environment variables. The result is validated once and
// passed explicitly to every component; nothing reads configuration later.
//
// Example installer.yaml:
//
//	site_data_dir: data
//	product_list_url: https://products.example.com/repo
//	product_name: Froyo POS
//	engine:
//	  command: /opt/froyo/froyo-engine
//	log:
//	  level: debug
package config
