// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// so a token can be kept out of the file:
//
//	service:
//	  ws_url: wss://share.example.com/ws
//	auth:
//	  token: ${GROUPSHARE_TOKEN}
package config
