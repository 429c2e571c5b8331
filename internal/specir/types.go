package specir

// Datatype enumerates the attribute primitives from §3.1.
type Datatype string

const (
	DatatypeString Datatype = "string"
	DatatypeInt    Datatype = "int"
	DatatypeReal   Datatype = "real"
	DatatypeBool   Datatype = "bool"
	DatatypeDate   Datatype = "date"
	DatatypeXHTML  Datatype = "xhtml"
	DatatypeEnum   Datatype = "enum"
)

// OwnerKind distinguishes which metamodel table an AttributeType belongs to.
type OwnerKind string

const (
	OwnerObject        OwnerKind = "object"
	OwnerFloat         OwnerKind = "float"
	OwnerSpecification OwnerKind = "specification"
)

// SpecificationType is a named document kind (§3.1).
type SpecificationType struct {
	ID        string
	Name      string
	ParentID  string
	IsDefault bool
}

// ObjectType is a named block kind, e.g. a requirement (§3.1).
type ObjectType struct {
	ID          string
	ParentID    string
	IsComposite bool
	IsDefault   bool
	Prefix      string
	PIDFormat   string
	Aliases     []string
}

// FloatType is a named embeddable artifact kind (§3.1).
type FloatType struct {
	ID                  string
	CaptionPrefix       string
	CounterGroup        string
	NeedsExternalRender bool
	Aliases             []string
}

// RelationType is a named link kind (§3.1).
type RelationType struct {
	ID              string
	ParentID        string
	SourceTypes     []string // nil = unconstrained
	TargetTypes     []string // nil = unconstrained
	Selector        string   // "" = unconstrained
	SourceAttribute string   // "" = body link (unconstrained by attribute)
}

// ViewType is a named view kind producing derived content (§3.1).
type ViewType struct {
	ID                  string
	CounterGroup        string
	InlinePrefix        string
	Materializer        string
	SubtypeRef          string
	NeedsExternalRender bool
	Aliases             []string
}

// AttributeType describes one attribute slot on an object or float type.
type AttributeType struct {
	ID          int64
	OwnerKind   OwnerKind
	OwnerTypeID string
	Name        string
	Datatype    Datatype
	MinOccurs   int
	MaxOccurs   int
	MinValue    *float64
	MaxValue    *float64
	EnumValues  []string // ordered
}

// Specification is a root document (§3.2).
type Specification struct {
	ID        int64
	RootPath  string
	LongName  string
	TypeRef   string
	PID       string
	HeaderAST string
	BodyAST   string
}

// SpecObject is a typed header block (§3.2).
type SpecObject struct {
	ID              int64
	SpecificationID int64
	TypeRef         string
	FromFile        string
	FileSeq         int
	PID             string
	PIDPrefix       string
	PIDSeq          int
	PIDFormat       string
	PIDAuto         bool
	Title           string
	Label           string
	Level           int
	StartLine       int
	EndLine         int
	AST             string
	ContentHash     string
	AltRepr         string
}

// SpecFloat is an embedded artifact (§3.2).
type SpecFloat struct {
	ID              int64
	SpecificationID int64
	TypeRef         string
	FromFile        string
	FileSeq         int
	StartLine       int
	Label           string
	Number          int
	Caption         string
	PandocAttrs     string
	RawContent      string
	RawAST          string
	ResolvedAST     string
	ParentObjectID  int64 // 0 = none
	Anchor          string
	SyntaxKey       string
}

// SpecRelation is a directed link (§3.2).
type SpecRelation struct {
	ID              int64
	SpecificationID int64
	SourceObjectID  int64
	RawTarget       string
	TargetObjectID  int64 // 0 = unresolved
	TargetFloatID   int64 // 0 = unresolved
	TypeRef         string
	IsAmbiguous     bool
	FromFile        string
	LinkLine        int
	SourceAttribute string // "" = body link
	LinkSelector    string
}

// SpecView is a view instance (§3.2).
type SpecView struct {
	ID              int64
	SpecificationID int64
	ViewTypeRef     string
	FromFile        string
	FileSeq         int
	StartLine       int
	RawAST          string
	ResolvedAST     string
	ResolvedData    string
}

// SpecAttributeValue is an EAV row (§3.2).
type SpecAttributeValue struct {
	ID              int64
	SpecificationID int64
	OwnerObjectID   int64 // exactly one of these two is set
	OwnerFloatID    int64
	Name            string
	RawValue        string
	StringValue     *string
	IntValue        *int64
	RealValue       *float64
	BoolValue       *bool
	DateValue       *string
	EnumValue       *string
	ASTValue        *string
	XHTMLValue      *string
	Datatype        Datatype
}
