package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	apiKeyPrefix   = "pf_"
	apiKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// GenerateRandomKey returns a prefixed api key with length random characters.
func GenerateRandomKey(length int) (string, error) {
	id, err := gonanoid.Generate(apiKeyAlphabet, length)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + id, nil
}

// NewStorageKey returns a url safe object key under prefix.
func NewStorageKey(prefix, ext string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := prefix + "/" + id
	if ext != "" {
		key += "." + ext
	}
	return key, nil
}
