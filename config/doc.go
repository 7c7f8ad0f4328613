// Package config loads LayerDB settings from an optional YAML file and
// LAYERDB_* environment variables.
//
//	data_dir: ~/.local/share/layerdb   # ":memory:" keeps nothing on disk
//	engine: sqlite                     # or duckdb
//	log_level: info
//	identity:
//	  name: Ada
//	  email: ada@example.com
//	remotes:
//	  origin:
//	    dir: /srv/layerdb/origin
//	s3:
//	  bucket: layerdb-objects
//	  region: eu-north-1
//	server:
//	  addr: ":8420"
//	  jwt_secret: change-me
//	  tls_cert: /etc/layerdb/cert.pem
//	  tls_key: /etc/layerdb/key.pem
//	http:
//	  url: https://objects.example.com
//	  token: eyJhbGciOi...
//	gc:
//	  grace_period: 1h
package config
