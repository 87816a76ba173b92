// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/dotandev/firma/internal/config"
	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/logger"
)

// Pkcs11Store exposes the certificates of a PKCS#11 token. Private keys
// never leave the device; signing is performed on the token.
type Pkcs11Store struct {
	mu      sync.Mutex
	cfg     config.Pkcs11Config
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
}

// OpenPkcs11 loads the module, picks a slot by token label or index, opens
// a session and logs in.
func OpenPkcs11(cfg config.Pkcs11Config) (*Pkcs11Store, error) {
	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, &StoreError{Op: "pkcs11", Msg: "failed to load PKCS#11 module " + cfg.ModulePath, Err: errors.ErrKeystoreAccess}
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, &StoreError{Op: "pkcs11", Msg: "initialize failed", Err: errors.WrapKeystoreAccess(err)}
	}

	fail := func(msg string, err error) (*Pkcs11Store, error) {
		ctx.Finalize()
		ctx.Destroy()
		if err == nil {
			err = errors.ErrKeystoreAccess
		} else {
			err = errors.WrapKeystoreAccess(err)
		}
		return nil, &StoreError{Op: "pkcs11", Msg: msg, Err: err}
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return fail("failed to list slots", err)
	}
	slot, err := pickSlot(ctx, slots, cfg)
	if err != nil {
		return fail(err.Error(), nil)
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fail("failed to open session", err)
	}
	if cfg.PIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			ctx.CloseSession(session)
			return fail("login failed", err)
		}
	}

	logger.Logger.Debug("PKCS#11 session opened", "module", cfg.ModulePath, "slot", slot)
	return &Pkcs11Store{cfg: cfg, ctx: ctx, session: session}, nil
}

func pickSlot(ctx *pkcs11.Ctx, slots []uint, cfg config.Pkcs11Config) (uint, error) {
	if len(slots) == 0 {
		return 0, fmt.Errorf("no slots with tokens available")
	}
	if cfg.TokenLabel != "" {
		for _, slot := range slots {
			info, err := ctx.GetTokenInfo(slot)
			if err != nil {
				continue
			}
			if strings.TrimRight(info.Label, " ") == cfg.TokenLabel {
				return slot, nil
			}
		}
		return 0, fmt.Errorf("no token labelled %q", cfg.TokenLabel)
	}
	if cfg.SlotIndex < 0 || cfg.SlotIndex >= len(slots) {
		return 0, fmt.Errorf("slot %d not found (only %d slots available)", cfg.SlotIndex, len(slots))
	}
	return slots[cfg.SlotIndex], nil
}

// Close logs out and releases the module.
func (s *Pkcs11Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return nil
	}
	s.ctx.Logout(s.session)
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

func (s *Pkcs11Store) Name() string {
	return "pkcs11:" + s.cfg.ModulePath
}

// Aliases returns the labels of the certificates that have a matching
// private key on the token.
func (s *Pkcs11Store) Aliases(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handles, err := s.find([]*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE)})
	if err != nil {
		return nil, err
	}

	var out []string
	for _, h := range handles {
		attrs, err := s.ctx.GetAttributeValue(s.session, h, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
			pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		})
		if err != nil || len(attrs) < 2 {
			continue
		}
		keys, err := s.find([]*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
			pkcs11.NewAttribute(pkcs11.CKA_ID, attrs[1].Value),
		})
		if err != nil || len(keys) == 0 {
			continue
		}
		out = append(out, string(attrs[0].Value))
	}
	return out, nil
}

func (s *Pkcs11Store) Certificate(_ context.Context, alias string) (*x509.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, _, err := s.certificate(alias)
	return cert, err
}

func (s *Pkcs11Store) Entry(_ context.Context, alias string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, id, err := s.certificate(alias)
	if err != nil {
		return nil, err
	}
	keys, err := s.find([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &StoreError{Op: "pkcs11", Msg: fmt.Sprintf("private key of %q not found", alias), Err: errors.ErrKeystoreAccess}
	}
	return &Entry{
		Signer: &pkcs11Key{store: s, handle: keys[0], public: cert.PublicKey},
		Chain:  []*x509.Certificate{cert},
	}, nil
}

// certificate finds the certificate labelled alias and returns it with its
// CKA_ID. The caller holds s.mu.
func (s *Pkcs11Store) certificate(alias string) (*x509.Certificate, []byte, error) {
	handles, err := s.find([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, alias),
	})
	if err != nil {
		return nil, nil, err
	}
	if len(handles) == 0 {
		return nil, nil, &StoreError{Op: "pkcs11", Msg: fmt.Sprintf("certificate %q not found", alias), Err: errors.ErrKeystoreAccess}
	}
	attrs, err := s.ctx.GetAttributeValue(s.session, handles[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
	})
	if err != nil {
		return nil, nil, &StoreError{Op: "pkcs11", Msg: "GetAttributeValue failed", Err: errors.WrapKeystoreAccess(err)}
	}
	if len(attrs) < 2 || len(attrs[0].Value) == 0 {
		return nil, nil, &StoreError{Op: "pkcs11", Msg: "certificate has no value", Err: errors.ErrKeystoreAccess}
	}
	cert, err := x509.ParseCertificate(attrs[0].Value)
	if err != nil {
		return nil, nil, &StoreError{Op: "pkcs11", Msg: "invalid certificate", Err: errors.WrapKeystoreAccess(err)}
	}
	return cert, attrs[1].Value, nil
}

// find runs a FindObjects cycle. The caller holds s.mu.
func (s *Pkcs11Store) find(template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if s.ctx == nil {
		return nil, &StoreError{Op: "pkcs11", Msg: "session closed", Err: errors.ErrKeystoreAccess}
	}
	if err := s.ctx.FindObjectsInit(s.session, template); err != nil {
		return nil, &StoreError{Op: "pkcs11", Msg: "FindObjectsInit failed", Err: errors.WrapKeystoreAccess(err)}
	}
	defer s.ctx.FindObjectsFinal(s.session)

	var out []pkcs11.ObjectHandle
	for {
		objs, _, err := s.ctx.FindObjects(s.session, 16)
		if err != nil {
			return nil, &StoreError{Op: "pkcs11", Msg: "FindObjects failed", Err: errors.WrapKeystoreAccess(err)}
		}
		if len(objs) == 0 {
			return out, nil
		}
		out = append(out, objs...)
	}
}

// pkcs11Key is a crypto.Signer backed by a private key handle.
type pkcs11Key struct {
	store  *Pkcs11Store
	handle pkcs11.ObjectHandle
	public crypto.PublicKey
}

func (k *pkcs11Key) Public() crypto.PublicKey {
	return k.public
}

// Sign signs a digest on the token. RSA keys use CKM_RSA_PKCS over a
// DigestInfo; EC keys use CKM_ECDSA and the raw r||s output is DER encoded.
func (k *pkcs11Key) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	var (
		mech  uint
		input = digest
		err   error
	)
	switch k.public.(type) {
	case *rsa.PublicKey:
		if _, ok := opts.(*rsa.PSSOptions); ok {
			return nil, &StoreError{Op: "pkcs11", Msg: "RSA-PSS is not supported", Err: errors.ErrKeystoreAccess}
		}
		mech = pkcs11.CKM_RSA_PKCS
		input, err = wrapDigestInfo(opts.HashFunc(), digest)
		if err != nil {
			return nil, err
		}
	case *ecdsa.PublicKey:
		mech = pkcs11.CKM_ECDSA
	default:
		return nil, &StoreError{Op: "pkcs11", Msg: fmt.Sprintf("unsupported key type %T", k.public), Err: errors.ErrKeystoreAccess}
	}

	k.store.mu.Lock()
	defer k.store.mu.Unlock()

	if k.store.ctx == nil {
		return nil, &StoreError{Op: "pkcs11", Msg: "session closed", Err: errors.ErrKeystoreAccess}
	}
	if err := k.store.ctx.SignInit(k.store.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, k.handle); err != nil {
		return nil, &StoreError{Op: "pkcs11", Msg: "SignInit failed", Err: errors.WrapSigningFailed(err)}
	}
	sig, err := k.store.ctx.Sign(k.store.session, input)
	if err != nil {
		return nil, &StoreError{Op: "pkcs11", Msg: "Sign failed", Err: errors.WrapSigningFailed(err)}
	}
	if mech == pkcs11.CKM_ECDSA {
		return encodeECDSASignature(sig)
	}
	return sig, nil
}

var digestInfoOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

// wrapDigestInfo wraps a digest in a PKCS#1 DigestInfo structure.
func wrapDigestInfo(h crypto.Hash, digest []byte) ([]byte, error) {
	oid, ok := digestInfoOIDs[h]
	if !ok {
		return nil, &StoreError{Op: "pkcs11", Msg: fmt.Sprintf("unsupported digest %v", h), Err: errors.ErrSigningFailed}
	}

	type algorithmIdentifier struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.RawValue `asn1:"optional"`
	}
	type digestInfo struct {
		DigestAlgorithm algorithmIdentifier
		Digest          []byte
	}

	return asn1.Marshal(digestInfo{
		DigestAlgorithm: algorithmIdentifier{Algorithm: oid, Parameters: asn1.RawValue{Tag: 5}},
		Digest:          digest,
	})
}

// encodeECDSASignature encodes an ECDSA signature (r||s) to DER.
func encodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, &StoreError{Op: "pkcs11", Msg: fmt.Sprintf("invalid ECDSA signature length %d", len(raw)), Err: errors.ErrSigningFailed}
	}
	half := len(raw) / 2
	return asn1.Marshal(struct{ R, S *big.Int }{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	})
}
