// Package client is the docchain Go SDK.
//
// It wraps the ledger's HTTP API: appending documents, reading records back
// and asking the server to re-verify the chain.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("DOCCHAIN_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := c.Append(ctx, map[string]any{
//	    "dataType":   "invoice",
//	    "identifier": "INV-2041",
//	    "amount":     "120.00",
//	})
//
// Every non-2xx response is returned as an *APIError carrying the server's
// failure kind, so callers can tell a compromised chain from an outage:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.IsIntegrity() {
//	    // the server refused because the chain failed verification
//	}
package client
