// Package session implements TLS 1.0-1.2 and DTLS 1.0/1.2 sessions driven
// by the caller.
//
// A Context holds the shared configuration: method, certificate chain and
// key, trust anchors, cipher list, verify mode, revocation policy and the
// registered callbacks. Sessions are spawned from a Context, bound to a
// transport and driven with Connect or Accept, then Read and Write, then
// Close.
//
// No goroutines run inside a Session. Every operation either completes,
// returns a would-block code (status.CodeWantRead or status.CodeWantWrite)
// asking the caller to invoke it again once the transport is ready, or
// fails fatally and moves the Session to StateErrored.
//
// Basic usage:
//
//	ctx, err := session.NewContext(version.TLSv1_2Client)
//	if err != nil { ... }
//	if err := ctx.LoadTrustAnchors("ca.pem", ""); err != nil { ... }
//
//	s, err := ctx.NewSession()
//	if err != nil { ... }
//	defer s.Destroy()
//	s.BindTransport(transport.NewStream(conn))
//	if err := s.Connect(); err != nil { ... }
//	s.Write([]byte("hello"))
package session
