package vespa

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

// EnsureIndicesExist deploys the schema bundle to the config server. There is
// no good way to diff the deployed app against the local zip, but activating
// the latest bundle brings the schema up to date without erasing stored data;
// a change that conflicts with existing data fails with a non-200.
func (x *Index) EnsureIndicesExist(ctx context.Context) error {
	deployURL := x.configURL + "/application/v2/tenant/default/prepareandactivate"
	x.logger.Debug().Str("url", deployURL).Msg("deploying schema bundle")

	f, err := os.Open(x.cfg.DeploymentZipPath)
	if err != nil {
		return fmt.Errorf("open deployment zip: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deployURL, f)
	if err != nil {
		return fmt.Errorf("create deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")

	status, body, err := x.do(req)
	if err != nil {
		return fmt.Errorf("deploy request: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to prepare index schema: %w", &engineError{status: status, body: string(body)})
	}
	return nil
}
