// Client for deployments on a Dynamo Cloud endpoint.
//
// The endpoint and API token come from the settings file, written by
// "dynamo cloud login". Requests carry the token as a bearer token. API
// failures map to sentinel errors: a rejected token to [ErrUnauthorized], a
// missing deployment to [ErrNotFound] and a name clash to [ErrAlreadyExists].
//
// The resolved service configuration of a graph reaches the deployment
// through the DYN_DEPLOYMENT_CONFIG environment variable.
//
// Example usage:
//
//	client, err := cloud.New(s.Cloud.Endpoint, s.Cloud.Token)
//	if err != nil {
//		return err
//	}
//
//	req, err := cloud.NewDeploymentRequest("hello", "hello_world:latest", cfg)
//	if err != nil {
//		return err
//	}
//
//	d, err := client.Create(ctx, req)
//	if err != nil {
//		return err
//	}
//
//	d, err = client.WaitUntilReady(ctx, d.Name, d.Cluster, time.Hour)
package cloud
