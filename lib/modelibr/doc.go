// Package modelibr provides a Go client for the Modelibr asset service API.
//
// Basic usage:
//
//	client, err := modelibr.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// upload a model, the first version is created by the server
//	created, err := client.CreateModel(ctx, "testdata/cube.glb")
//
//	// read it back
//	model, err := client.GetModel(ctx, created.ID)
//
//	// create a texture set from a single albedo map
//	ts, err := client.CreateTextureSetWithFile(ctx, "testdata/albedo.png", "bricks", modelibr.TextureAlbedo)
//
// Thumbnail notifications:
//
//	sub, err := client.SubscribeThumbnails(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sub.Close()
//	for ev := range sub.Events() {
//	    fmt.Println(ev.ModelVersionID, ev.Status)
//	}
//
// With custom options:
//
//	client, err := modelibr.New("http://localhost:8080",
//	    modelibr.WithToken("your-api-key"),
//	    modelibr.WithTimeout(10*time.Second),
//	    modelibr.WithRetry(5, 200*time.Millisecond),
//	)
package modelibr
