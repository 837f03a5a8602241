package handler

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/oil-billing/internal/core/service"
)

const billingServiceName = "billing.v1.BillingService"

type BillBarrelRequest struct {
	RequestID   string `json:"request_id"`
	InvoiceID   string `json:"invoice_id" validate:"required"`
	BarrelID    string `json:"barrel_id" validate:"required"`
	Liters      int    `json:"liters"`
	UnitPrice   string `json:"unit_price" validate:"required"`
	Description string `json:"description"`
}

type GetInvoiceRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
}

type GetProviderRequest struct {
	ProviderID string `json:"provider_id" validate:"required"`
}

// BillingServiceServer is the server side of billing.v1.BillingService.
type BillingServiceServer interface {
	BillBarrel(ctx context.Context, req *BillBarrelRequest) (*LineResponse, error)
	GetInvoice(ctx context.Context, req *GetInvoiceRequest) (*InvoiceDetailResponse, error)
	GetProvider(ctx context.Context, req *GetProviderRequest) (*ProviderDetailResponse, error)
}

type GRPCHandler struct {
	inventory *service.InventoryService
	invoices  *service.InvoiceService
	billing   *service.BillingService
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewGRPCHandler(inventory *service.InventoryService, invoices *service.InvoiceService, billing *service.BillingService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{
		inventory: inventory,
		invoices:  invoices,
		billing:   billing,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.Named("grpc"),
	}
}

var _ BillingServiceServer = (*GRPCHandler)(nil)

func (h *GRPCHandler) BillBarrel(ctx context.Context, req *BillBarrelRequest) (*LineResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "unit_price %q is not a decimal", req.UnitPrice)
	}

	line, err := h.billing.BillBarrel(ctx, service.BillRequest{
		RequestID:   req.RequestID,
		InvoiceID:   req.InvoiceID,
		BarrelID:    req.BarrelID,
		Liters:      req.Liters,
		UnitPrice:   price,
		Description: req.Description,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	resp := toLineResponse(*line)
	return &resp, nil
}

func (h *GRPCHandler) GetInvoice(ctx context.Context, req *GetInvoiceRequest) (*InvoiceDetailResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	detail, err := h.invoices.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	resp := toInvoiceDetailResponse(detail)
	return &resp, nil
}

func (h *GRPCHandler) GetProvider(ctx context.Context, req *GetProviderRequest) (*ProviderDetailResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	summary, err := h.inventory.ProviderSummary(ctx, req.ProviderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	resp := toProviderDetailResponse(summary)
	return &resp, nil
}

// toStatus carries the public code in the message prefix and, as status
// details, an ErrorInfo plus a BadRequest naming the rejected field.
func (h *GRPCHandler) toStatus(err error) error {
	code, mapping := classify(err)
	if code == codeInternal {
		h.logger.Error("rpc failed", zap.Error(err))
	}

	st := status.New(mapping.grpc, code+": "+publicMessage(code, err))
	field, details := validationDetail(err)
	withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   code,
		Domain:   billingServiceName,
		Metadata: details,
	})
	if derr != nil {
		h.logger.Warn("failed to attach error details", zap.Error(derr))
		return st.Err()
	}
	st = withInfo

	if field != "" {
		withField, derr := st.WithDetails(&errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{
				{Field: field, Description: publicMessage(code, err)},
			},
		})
		if derr != nil {
			h.logger.Warn("failed to attach error details", zap.Error(derr))
			return st.Err()
		}
		st = withField
	}
	return st.Err()
}

// RegisterBillingServiceServer attaches srv to s under billing.v1.BillingService.
func RegisterBillingServiceServer(s grpc.ServiceRegistrar, srv BillingServiceServer) {
	s.RegisterService(&billingServiceDesc, srv)
}

var billingServiceDesc = grpc.ServiceDesc{
	ServiceName: billingServiceName,
	HandlerType: (*BillingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BillBarrel", Handler: billBarrelHandler},
		{MethodName: "GetInvoice", Handler: getInvoiceHandler},
		{MethodName: "GetProvider", Handler: getProviderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billing/v1/billing.proto",
}

func billBarrelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BillBarrelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServiceServer).BillBarrel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/BillBarrel"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServiceServer).BillBarrel(ctx, req.(*BillBarrelRequest))
	})
}

func getInvoiceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServiceServer).GetInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/GetInvoice"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServiceServer).GetInvoice(ctx, req.(*GetInvoiceRequest))
	})
}

func getProviderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetProviderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServiceServer).GetProvider(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/GetProvider"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServiceServer).GetProvider(ctx, req.(*GetProviderRequest))
	})
}

// BillingClient calls billing.v1.BillingService using the JSON codec.
type BillingClient struct {
	cc grpc.ClientConnInterface
}

func NewBillingClient(cc grpc.ClientConnInterface) *BillingClient {
	return &BillingClient{cc: cc}
}

func (c *BillingClient) BillBarrel(ctx context.Context, req *BillBarrelRequest, opts ...grpc.CallOption) (*LineResponse, error) {
	out := new(LineResponse)
	if err := c.invoke(ctx, "BillBarrel", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) GetInvoice(ctx context.Context, req *GetInvoiceRequest, opts ...grpc.CallOption) (*InvoiceDetailResponse, error) {
	out := new(InvoiceDetailResponse)
	if err := c.invoke(ctx, "GetInvoice", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) GetProvider(ctx context.Context, req *GetProviderRequest, opts ...grpc.CallOption) (*ProviderDetailResponse, error) {
	out := new(ProviderDetailResponse)
	if err := c.invoke(ctx, "GetProvider", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+billingServiceName+"/"+method, in, out, opts...)
}

// ErrorCode extracts the public error code from a status returned by the
// billing service, or "" when err did not come from it.
func ErrorCode(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == billingServiceName {
			return info.GetReason()
		}
	}

	code, _, found := strings.Cut(st.Message(), ":")
	if !found {
		return ""
	}
	if _, known := errorMappings[code]; known || code == codeInternal {
		return code
	}
	return ""
}

// ErrorDetail returns the rejected field and its context carried by a billing
// service status.
func ErrorDetail(err error) (field string, details map[string]string) {
	st, ok := status.FromError(err)
	if !ok {
		return "", nil
	}
	for _, d := range st.Details() {
		switch d := d.(type) {
		case *errdetails.ErrorInfo:
			details = d.GetMetadata()
		case *errdetails.BadRequest:
			if v := d.GetFieldViolations(); len(v) > 0 {
				field = v[0].GetField()
			}
		}
	}
	return field, details
}
