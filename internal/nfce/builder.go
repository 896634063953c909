// Package nfce assembles and signs simplified NFC-e documents.
package nfce

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"

	"golang.org/x/text/unicode/norm"
)

// Markers rendered in place of descriptions the tax tables could not resolve.
const (
	UnknownMarker = "desconhecido"
	NotApplicable = "n/a"
)

const (
	reviewAttrValue   = "true"
	minNCMLength      = 4
	maxNCMLength      = 8
	homologationTpAmb = 2
	productionTpAmb   = 1
)

// TaxTables resolves classification codes. A miss is a valid outcome.
type TaxTables interface {
	FindNCM(code string) (domain.TaxEntry, bool)
	FindCFOP(code string) (domain.TaxEntry, bool)
	FindCST(code string) (domain.TaxEntry, bool)
	FindCSOSN(code string) (domain.TaxEntry, bool)
}

// Builder renders a sale into the simplified NFC-e XML.
type Builder struct {
	tables TaxTables
	now    func() time.Time
}

// NewBuilder creates a builder. now defaults to time.Now.
func NewBuilder(tables TaxTables, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{tables: tables, now: now}
}

type nfeDocument struct {
	XMLName xml.Name `xml:"NFe"`
	InfNFe  infNFe   `xml:"infNFe"`
}

type infNFe struct {
	Ide ide   `xml:"ide"`
	Det []det `xml:"det"`
}

type ide struct {
	CNF   string `xml:"cNF"`
	TpAmb int    `xml:"tpAmb"`
	DhEmi string `xml:"dhEmi"`
}

type det struct {
	NItem     int     `xml:"nItem,attr"`
	Revisar   string  `xml:"revisar,attr,omitempty"`
	Prod      prod    `xml:"prod"`
	Imposto   imposto `xml:"imposto"`
	Tributos  string  `xml:",comment"`
	InfAdProd string  `xml:"infAdProd"`
}

type prod struct {
	CProd  string `xml:"cProd"`
	XProd  string `xml:"xProd"`
	QCom   string `xml:"qCom"`
	VUnCom string `xml:"vUnCom"`
}

type imposto struct {
	ICMS icms `xml:"ICMS"`
}

type icms struct {
	Orig  int    `xml:"orig"`
	CST   string `xml:"CST"`
	CSOSN string `xml:"CSOSN,omitempty"`
	CFOP  string `xml:"CFOP"`
	NCM   string `xml:"NCM"`
}

// Build renders the document for the homologation environment.
func (b *Builder) Build(saleRef string, items []domain.InvoiceItem) (string, error) {
	return b.BuildForEnvironment(domain.EnvironmentHomologation, saleRef, items)
}

// BuildForEnvironment renders the document. Items keep their input order.
// Output only varies with the clock reading embedded in dhEmi.
func (b *Builder) BuildForEnvironment(environment, saleRef string, items []domain.InvoiceItem) (string, error) {
	tpAmb, err := environmentCode(environment)
	if err != nil {
		return "", err
	}
	if err := Validate(saleRef, items); err != nil {
		return "", err
	}

	doc := nfeDocument{
		InfNFe: infNFe{
			Ide: ide{
				CNF:   strings.TrimSpace(saleRef),
				TpAmb: tpAmb,
				DhEmi: b.now().UTC().Format(time.RFC3339),
			},
			Det: make([]det, 0, len(items)),
		},
	}

	for i, item := range items {
		doc.InfNFe.Det = append(doc.InfNFe.Det, b.renderItem(i+1, item))
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render nfce: %w", err)
	}
	return string(out), nil
}

func (b *Builder) renderItem(index int, item domain.InvoiceItem) det {
	ncm, ncmOK := b.tables.FindNCM(item.NCM)
	cfop, cfopOK := b.tables.FindCFOP(item.CFOP)
	cst, cstOK := b.tables.FindCST(item.CST)

	needsReview := !ncmOK || !cfopOK || !cstOK

	csosnDesc := NotApplicable
	if item.CSOSN != "" {
		csosn, ok := b.tables.FindCSOSN(item.CSOSN)
		csosnDesc = describe(csosn, ok)
		needsReview = needsReview || !ok
	}

	d := det{
		NItem: index,
		Prod: prod{
			CProd:  normalize(item.ProductCode),
			XProd:  normalize(item.Description),
			QCom:   item.Quantity.String(),
			VUnCom: item.UnitPrice.String(),
		},
		Imposto: imposto{ICMS: icms{
			Orig:  0,
			CST:   item.CST,
			CSOSN: item.CSOSN,
			CFOP:  item.CFOP,
			NCM:   item.NCM,
		}},
		Tributos: commentSafe(fmt.Sprintf(" tributacoes: NCM=%s, CFOP=%s, CST=%s, CSOSN=%s ",
			describe(ncm, ncmOK), describe(cfop, cfopOK), describe(cst, cstOK), csosnDesc)),
		InfAdProd: fmt.Sprintf("item %d - qtd %s x %s", index, item.Quantity.String(), item.UnitPrice.String()),
	}
	if needsReview {
		d.Revisar = reviewAttrValue
	}
	return d
}

// Validate rejects input the pipeline must not turn into a document.
func Validate(saleRef string, items []domain.InvoiceItem) error {
	if strings.TrimSpace(saleRef) == "" {
		return &domain.ErrValidation{Field: "sale_id", Message: "é obrigatório"}
	}
	if len(items) == 0 {
		return &domain.ErrValidation{Field: "items", Message: "a nota precisa de ao menos um item"}
	}
	for i, item := range items {
		field := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }
		switch {
		case strings.TrimSpace(item.ProductCode) == "":
			return &domain.ErrValidation{Field: field("product_code"), Message: "é obrigatório"}
		case strings.TrimSpace(item.Description) == "":
			return &domain.ErrValidation{Field: field("description"), Message: "é obrigatório"}
		case !item.Quantity.IsPositive():
			return &domain.ErrValidation{Field: field("quantity"), Message: "deve ser maior que zero"}
		case item.UnitPrice.IsNegative():
			return &domain.ErrValidation{Field: field("unit_price"), Message: "não pode ser negativo"}
		case len(item.NCM) < minNCMLength || len(item.NCM) > maxNCMLength:
			return &domain.ErrValidation{Field: field("ncm"), Message: "deve ter entre 4 e 8 caracteres"}
		case item.CFOP == "":
			return &domain.ErrValidation{Field: field("cfop"), Message: "é obrigatório"}
		case item.CST == "":
			return &domain.ErrValidation{Field: field("cst"), Message: "é obrigatório"}
		}
	}
	return nil
}

func environmentCode(environment string) (int, error) {
	switch environment {
	case "", domain.EnvironmentHomologation:
		return homologationTpAmb, nil
	case domain.EnvironmentProduction:
		return productionTpAmb, nil
	default:
		return 0, &domain.ErrValidation{Field: "environment", Message: "use producao ou homologacao"}
	}
}

func describe(entry domain.TaxEntry, ok bool) string {
	if !ok {
		return UnknownMarker
	}
	return normalize(entry.Description)
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// commentSafe keeps text valid inside an XML comment.
func commentSafe(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.TrimSuffix(s, "-")
}
