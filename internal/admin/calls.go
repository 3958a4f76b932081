package admin

import (
	"context"
	"fmt"
)

// GenerateAgentPubKey asks the conductor keystore for a new agent key.
func GenerateAgentPubKey(ctx context.Context, c Commander) (AgentPubKey, error) {
	resp, err := c.Command(ctx, GenerateAgentPubKeyRequest())
	if err != nil {
		return nil, fmt.Errorf("generate agent key: %w", err)
	}
	key, ok := resp.AgentPubKey()
	if !ok {
		return nil, fmt.Errorf("generate agent key: %w", &UnexpectedResponseError{Expected: ResponseAgentPubKeyGenerated, Got: resp})
	}
	return key, nil
}

// InstallAppBundle installs a bundle and returns the installed app as the
// conductor reports it.
func InstallAppBundle(ctx context.Context, c Commander, p InstallAppBundlePayload) (InstalledAppInfo, error) {
	resp, err := c.Command(ctx, InstallAppBundleRequest(p))
	if err != nil {
		return InstalledAppInfo{}, fmt.Errorf("install app bundle: %w", err)
	}
	info, ok := resp.InstalledApp()
	if !ok {
		return InstalledAppInfo{}, fmt.Errorf("install app bundle: %w", &UnexpectedResponseError{Expected: ResponseAppBundleInstalled, Got: resp})
	}
	return info, nil
}

// ActivateApp activates an installed app.
func ActivateApp(ctx context.Context, c Commander, installedAppID string) error {
	resp, err := c.Command(ctx, ActivateAppRequest(installedAppID))
	if err != nil {
		return fmt.Errorf("activate app %q: %w", installedAppID, err)
	}
	if resp.Type != ResponseAppActivated {
		return fmt.Errorf("activate app %q: %w", installedAppID, &UnexpectedResponseError{Expected: ResponseAppActivated, Got: resp})
	}
	return nil
}
