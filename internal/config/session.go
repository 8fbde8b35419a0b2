package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// ProfileFromEnv is recorded when no explicit profile is configured and
// the AWS SDK's default credential chain should be used.
const ProfileFromEnv = "from-env"

const fallbackRegion = "us-east-1"

// Region returns the active AWS region.
//
// Order of precedence: the weft config file, the AWS_REGION /
// AWS_DEFAULT_REGION environment variables, the default profile in the
// AWS shared config file, and finally us-east-1. The resolved value is
// persisted so later processes agree on it.
func Region() (string, error) {
	if r, ok, err := Get(SectionAWS, KeyRegion); err != nil {
		return "", err
	} else if ok {
		return r, nil
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = sharedConfigRegion()
	}
	if region == "" {
		region = fallbackRegion
	}

	if err := Set(SectionAWS, KeyRegion, region); err != nil {
		return "", err
	}
	return region, nil
}

// SetRegion persists the active region. Validation against the remote
// region list happens in the client registry, which also resets its
// cached handles afterwards.
func SetRegion(region string) error {
	return Set(SectionAWS, KeyRegion, region)
}

// Profile returns the active AWS profile.
//
// Order of precedence: the weft config file, the AWS_PROFILE environment
// variable, the "default" profile if one exists in the AWS shared files,
// and finally ProfileFromEnv (meaning: defer to the SDK credential
// chain). Resolved profiles are persisted; the from-env fallback is not.
func Profile() (string, error) {
	if p, ok, err := Get(SectionAWS, KeyProfile); err != nil {
		return "", err
	} else if ok {
		return p, nil
	}

	profile := os.Getenv("AWS_PROFILE")
	if profile == "" {
		info, err := ListProfiles()
		if err == nil && contains(info.Profiles, "default") {
			profile = "default"
		}
	}
	if profile == "" {
		return ProfileFromEnv, nil
	}

	if err := Set(SectionAWS, KeyProfile, profile); err != nil {
		return "", err
	}
	return profile, nil
}

// SetProfile persists the active profile. Existence checks against the
// AWS shared files happen in the client registry.
func SetProfile(profile string) error {
	return Set(SectionAWS, KeyProfile, profile)
}

// ProfileInfo lists the AWS profiles found in the shared config and
// credentials files, along with the file locations searched.
type ProfileInfo struct {
	Profiles        []string
	CredentialsFile string
	ConfigFile      string
}

// ListProfiles returns the AWS profiles declared in the shared
// credentials and config files.
func ListProfiles() (ProfileInfo, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return ProfileInfo{}, fmt.Errorf("failed to locate home dir: %w", err)
	}

	credFile := os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	if credFile == "" {
		credFile = filepath.Join(home, ".aws", "credentials")
	}
	confFile := os.Getenv("AWS_CONFIG_FILE")
	if confFile == "" {
		confFile = filepath.Join(home, ".aws", "config")
	}

	info := ProfileInfo{CredentialsFile: credFile, ConfigFile: confFile}

	if f, err := ini.Load(confFile); err == nil {
		for _, sec := range f.Sections() {
			// Shared config sections are named "profile <name>".
			var name string
			if n, err := fmt.Sscanf(sec.Name(), "profile %s", &name); err == nil && n == 1 {
				info.Profiles = append(info.Profiles, name)
			}
		}
	}
	if f, err := ini.Load(credFile); err == nil {
		for _, sec := range f.Sections() {
			if sec.Name() != ini.DefaultSection {
				info.Profiles = append(info.Profiles, sec.Name())
			}
		}
	}
	return info, nil
}

func sharedConfigRegion() string {
	confFile := os.Getenv("AWS_CONFIG_FILE")
	if confFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		confFile = filepath.Join(home, ".aws", "config")
	}
	f, err := ini.Load(confFile)
	if err != nil {
		return ""
	}
	if sec, err := f.GetSection("default"); err == nil && sec.HasKey("region") {
		return sec.Key("region").String()
	}
	return ""
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
