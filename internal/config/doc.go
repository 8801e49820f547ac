// Package config loads coderag settings from defaults, an optional YAML
// file and CODERAG_* environment variables, and converts them into the
// option types of the chunker, embedder, indexer and searcher packages.
package config
