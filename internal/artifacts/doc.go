// Package artifacts publishes build outputs to a directory or an S3
// bucket.
//
//	store, err := artifacts.Open("s3://my-bucket/builds?region=eu-west-1")
//	if err != nil {
//		return err
//	}
//	err = store.Put(ctx, "photon/entries.json", f, "application/json")
//
// S3 credentials come from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
// AWS_SESSION_TOKEN. PHOTON_S3_ENDPOINT and PHOTON_S3_PATH_STYLE point the
// client at S3-compatible services.
package artifacts
