// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package params

// Well-known parameter names. They are shared with calling applications and
// must keep their exact spelling.
const (
	CheckSignatures         = "checkSignatures"
	Headless                = "headless"
	Target                  = "target"
	Mode                    = "mode"
	MimeType                = "mimeType"
	ContentTypeOid          = "contentTypeOid"
	SignatureSubFilter      = "signatureSubFilter"
	SignReason              = "signReason"
	SignatureProductionCity = "signatureProductionCity"
	SignerContact           = "signerContact"

	SignatureFormat         = "format"
	XAdESNamespace          = "xadesNamespace"
	ContentDescription      = "contentDescription"
	ProductionStreetAddress = "signatureProductionStreetAddress"
	ProductionPostalCode    = "signatureProductionPostalCode"
	ProductionProvince      = "signatureProductionProvince"
	ProductionCountry       = "signatureProductionCountry"
	SignerClaimedRoles      = "signerClaimedRoles"

	ExpPolicy                     = "expPolicy"
	PolicyIdentifier              = "policyIdentifier"
	PolicyIdentifierHash          = "policyIdentifierHash"
	PolicyIdentifierHashAlgorithm = "policyIdentifierHashAlgorithm"
	PolicyQualifier               = "policyQualifier"
	PolicyDescription             = "policyDescription"

	VisibleSignature     = "visibleSignature"
	VisibleAppearance    = "visibleAppearance"
	PositionLowerLeftX   = "signaturePositionOnPageLowerLeftX"
	PositionLowerLeftY   = "signaturePositionOnPageLowerLeftY"
	PositionUpperRightX  = "signaturePositionOnPageUpperRightX"
	PositionUpperRightY  = "signaturePositionOnPageUpperRightY"
	SignaturePage        = "signaturePage"
	SignaturePages       = "signaturePages"
	Layer2Text           = "layer2Text"
	Layer2FontFamily     = "layer2FontFamily"
	Layer2FontSize       = "layer2FontSize"
	Layer2FontStyle      = "layer2FontStyle"
	Layer2FontColor      = "layer2FontColor"
	SignatureRotation    = "signatureRotation"
	SignatureRubricImage = "signatureRubricImage"

	AllowShadowAttack                    = "allowShadowAttack"
	PagesToCheckShadowAttack             = "pagesToCheckShadowAttack"
	AllowSigningCertifiedPdfs            = "allowSigningCertifiedPdfs"
	AllowCosigningUnregisteredSignatures = "allowCosigningUnregisteredSignatures"
	OwnerPassword                        = "ownerPassword"
	UserPassword                         = "userPassword"

	FilterSubjectContains  = "filters.subject.contains"
	FilterIssuerContains   = "filters.issuer.contains"
	FilterThumbprint       = "filters.thumbprint"
	FilterNonExpired       = "filters.nonexpired"
	FilterSigningKeyUsage  = "filters.keyusage.signing"
	MandatoryCertSelection = "mandatoryCertSelection"

	MinimumClientVersion = "minimumClientVersion"

	LoadFileExtensions  = "loadFileExts"
	LoadFileDescription = "loadFileDescription"
	LoadFileCurrentDir  = "loadFileCurrentDir"
	LoadFileName        = "loadFileFilename"
)

// Values accepted by the Target, Mode and VisibleSignature keys.
const (
	TargetTree   = "tree"
	TargetLeafs  = "leafs"
	ModeExplicit = "explicit"
	ModeImplicit = "implicit"

	VisibleWant      = "want"
	VisibleOptional  = "optional"
	AppearanceCustom = "custom"

	MimeTypeSHA1Digest = "hash/sha1"

	FormatEnveloped  = "XAdES Enveloped"
	FormatEnveloping = "XAdES Enveloping"
	FormatDetached   = "XAdES Detached"
)

// PositionKeys are the four corners of a visible signature area.
var PositionKeys = []string{
	PositionLowerLeftX,
	PositionLowerLeftY,
	PositionUpperRightX,
	PositionUpperRightY,
}

// AppearanceKeys are copied from a placement result only when present.
var AppearanceKeys = []string{
	Layer2Text,
	Layer2FontFamily,
	Layer2FontSize,
	SignatureRotation,
	Layer2FontStyle,
	Layer2FontColor,
	SignatureRubricImage,
}
