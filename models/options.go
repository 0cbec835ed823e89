package models

import (
	"fmt"
	"strings"
)

// ImageSource decides how the node image reaches a host.
type ImageSource string

const (
	// ImageManual means the operator preloads the image; presence is checked
	// before a new host is accepted.
	ImageManual ImageSource = "manual"
	// ImagePull means the engine pulls the image from the registry itself.
	ImagePull ImageSource = "pull"
)

// ParseImageSource validates an image-source selector.
func ParseImageSource(s string) (ImageSource, error) {
	switch src := ImageSource(strings.ToLower(strings.TrimSpace(s))); src {
	case ImageManual, ImagePull:
		return src, nil
	}
	return "", fmt.Errorf("unknown image source %q", s)
}

// SelfProvisions reports whether the engine fetches the image on its own.
func (s ImageSource) SelfProvisions() bool {
	return s == ImagePull
}

// OptionType labels the operation a piece of async work belongs to.
type OptionType string

const (
	OptionDeployChain  OptionType = "deploy_chain"
	OptionModifyChain  OptionType = "modify_chain"
	OptionUpgradeChain OptionType = "upgrade_chain"
	OptionStartNode    OptionType = "start_node"
	OptionStopNode     OptionType = "stop_node"
)

// ImageName returns the full image reference for a version.
func ImageName(repository, version string) string {
	return repository + ":" + version
}
