package mocks

//go:generate mockgen -destination=./mock_dataservice.go -package=mocks github.com/rxtech-lab/argo-datapage/pkg/dataservice PageService,StreamService,Subscription
//go:generate mockgen -destination=./mock_compute.go -package=mocks github.com/rxtech-lab/argo-datapage/pkg/compute Strategy,Engine,ResultStore
